// Package store provides the key-value persistence the registry uses to
// survive restarts. Values are numeric; Set can additionally flag a value
// for archiving into a time-series sink.
package store

import "time"

// Store is the persistence capability consumed by the registry.
type Store interface {
	// Get returns the stored value. ok is false if the key was never set.
	Get(key string) (value float64, ok bool, err error)

	// Set stores the value. If archive is true the value is also logged
	// to the archive sink, if one is attached.
	Set(key string, value float64, archive bool) error
}

// Archiver receives values written with the archive flag.
type Archiver interface {
	Archive(key string, value float64, at time.Time)
}

type archiving struct {
	Store
	archiver Archiver
	now      func() time.Time
}

// WithArchive wraps s so that archived writes are forwarded to a.
// A nil archiver returns s unchanged.
func WithArchive(s Store, a Archiver) Store {
	if a == nil {
		return s
	}
	return &archiving{Store: s, archiver: a, now: time.Now}
}

func (s *archiving) Set(key string, value float64, archive bool) error {
	if err := s.Store.Set(key, value, archive); err != nil {
		return err
	}
	if archive {
		s.archiver.Archive(key, value, s.now())
	}
	return nil
}
