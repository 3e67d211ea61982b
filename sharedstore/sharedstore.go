// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sharedstore persists the values of shared variables in a bbolt database, indexed by
// the variable names.
//
// Each value is stored as its shape (gob encoded) and its raw data, in the native byte order.
package sharedstore

import (
	"bytes"
	"encoding/gob"
	"slices"
	"time"

	"github.com/gomlx/symbolic/graph"
	"github.com/gomlx/symbolic/types"
	"github.com/gomlx/symbolic/types/shapes"
	"github.com/gomlx/symbolic/types/tensors"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
	"k8s.io/klog/v2"
)

var (
	// ErrNotFound is returned when loading a variable whose name is not in the store.
	ErrNotFound = errors.New("shared value not found")

	// ErrNotShared is returned when saving or loading a variable that is not shared, or has no name.
	ErrNotShared = errors.New("not a named shared variable")
)

const (
	bucketShapes = "shapes"
	bucketValues = "values"
)

// OpenTimeout is the time to wait for the lock of the database file.
var OpenTimeout = time.Second

// Store of shared values, backed by a bbolt database file.
type Store struct {
	db *bolt.DB
}

// Open the store in the given file, creating it if needed.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: OpenTimeout})
	if err != nil {
		return nil, errors.Wrapf(err, "opening shared values store %q", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range []string{bucketShapes, bucketValues} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "initializing shared values store %q", path)
	}
	return &Store{db: db}, nil
}

// Close the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func checkNames(vars []*graph.Variable) error {
	names := types.MakeSet[string](len(vars))
	for _, v := range vars {
		if v == nil || !v.IsShared() || v.Name() == "" {
			return errors.Wrapf(ErrNotShared, "variable %v", v)
		}
		if names.Has(v.Name()) {
			return errors.Errorf("more than one variable named %q", v.Name())
		}
		names.Insert(v.Name())
	}
	return nil
}

// Save the current values of the shared variables, replacing previously saved values with
// the same names. All values are saved in one transaction.
func (s *Store) Save(vars ...*graph.Variable) error {
	if err := checkNames(vars); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		shapesBucket, valuesBucket := tx.Bucket([]byte(bucketShapes)), tx.Bucket([]byte(bucketValues))
		for _, v := range vars {
			value := v.GetValue(true)
			var buf bytes.Buffer
			if err := value.Shape().GobSerialize(gob.NewEncoder(&buf)); err != nil {
				return errors.WithMessagef(err, "encoding shape of %q", v.Name())
			}
			key := []byte(v.Name())
			if err := shapesBucket.Put(key, buf.Bytes()); err != nil {
				return errors.Wrapf(err, "saving shape of %q", v.Name())
			}
			if err := valuesBucket.Put(key, value.Bytes()); err != nil {
				return errors.Wrapf(err, "saving value of %q", v.Name())
			}
			klog.V(2).Infof("saved %q: %s", v.Name(), value.Shape())
		}
		return nil
	})
}

// Load sets the values of the shared variables from the store. The values must fit the types of
// the variables.
//
// If any of the values is missing or invalid, no variable is changed.
func (s *Store) Load(vars ...*graph.Variable) error {
	if err := checkNames(vars); err != nil {
		return err
	}
	values := make([]*tensors.Tensor, len(vars))
	err := s.db.View(func(tx *bolt.Tx) error {
		shapesBucket, valuesBucket := tx.Bucket([]byte(bucketShapes)), tx.Bucket([]byte(bucketValues))
		for ii, v := range vars {
			key := []byte(v.Name())
			encodedShape, data := shapesBucket.Get(key), valuesBucket.Get(key)
			if encodedShape == nil || data == nil {
				return errors.Wrapf(ErrNotFound, "variable %q", v.Name())
			}
			shape, err := shapes.GobDeserialize(gob.NewDecoder(bytes.NewReader(encodedShape)))
			if err != nil {
				return errors.WithMessagef(err, "decoding shape of %q", v.Name())
			}
			if shape.DType != v.DType() {
				return errors.Wrapf(graph.ErrTypeMismatch, "variable %q has type %s, stored value has shape %s", v.Name(), v.Type, shape)
			}
			if err := v.Type.CheckShape(shape); err != nil {
				return errors.WithMessagef(err, "loading %q", v.Name())
			}
			if current := v.GetValue(true); !current.Shape().Equal(shape) {
				return errors.Wrapf(graph.ErrShapeMismatch, "variable %q has shape %s, stored value has shape %s",
					v.Name(), current.Shape(), shape)
			}
			value, err := tensors.FromBytes(shape, data)
			if err != nil {
				return errors.WithMessagef(err, "loading %q", v.Name())
			}
			values[ii] = value
		}
		return nil
	})
	if err != nil {
		return err
	}
	for ii, v := range vars {
		if err := v.SetValue(values[ii], true); err != nil {
			return err
		}
	}
	return nil
}

// Names returns the names of the stored values, sorted.
func (s *Store) Names() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketShapes)).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	slices.Sort(names)
	return names, err
}

// Delete the stored value with the given name. Deleting a missing name is not an error.
func (s *Store) Delete(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(bucketShapes)).Delete([]byte(name)); err != nil {
			return err
		}
		return tx.Bucket([]byte(bucketValues)).Delete([]byte(name))
	})
}

// Save opens the store at path, saves the variables and closes it.
func Save(path string, vars ...*graph.Variable) (err error) {
	s, err := Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); err == nil {
			err = closeErr
		}
	}()
	return s.Save(vars...)
}

// Load opens the store at path, loads the variables and closes it.
func Load(path string, vars ...*graph.Variable) (err error) {
	s, err := Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); err == nil {
			err = closeErr
		}
	}()
	return s.Load(vars...)
}
