package galdrdb

import (
	"fmt"

	"github.com/rthomasv3/galdrdb/codec"
	"github.com/rthomasv3/galdrdb/txn"
)

// Collection is a convenience handle over an Engine and a collection name:
// each method opens, drives, and commits or rolls back its own single-
// operation Transaction, encoding/decoding through Codec. Callers that need
// several mutations to commit atomically together should use
// Engine.BeginTxn directly instead.
type Collection struct {
	engine    *Engine
	name      string
	codec     codec.Codec
	validator *codec.SchemaValidator
}

func (e *Engine) newCollection(name string, validator *codec.SchemaValidator) *Collection {
	return &Collection{engine: e, name: name, codec: codec.JSON{}, validator: validator}
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// SetSchema compiles and persists schemaJSON as this collection's
// validation schema; an empty string clears it.
func (c *Collection) SetSchema(schemaJSON string) error {
	if schemaJSON == "" {
		c.validator = nil
		return c.engine.meta.setSchema(c.name, "")
	}
	v, err := codec.NewSchemaValidator(schemaJSON)
	if err != nil {
		return err
	}
	if err := c.engine.meta.setSchema(c.name, schemaJSON); err != nil {
		return err
	}
	c.validator = v
	return nil
}

func (c *Collection) validate(data []byte) error {
	if c.validator == nil {
		return nil
	}
	return c.validator.Validate(data)
}

// Insert encodes v and inserts it as a new document, optionally under an
// explicit id. Returns the assigned id.
func (c *Collection) Insert(v any, id string, indexFields map[string]any) (string, error) {
	data, err := c.codec.Serialize(v)
	if err != nil {
		return "", err
	}
	if err := c.validate(data); err != nil {
		return "", err
	}

	tx := c.engine.BeginTxn(false)
	newID, err := tx.Insert(c.name, data, id, indexFields)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	c.engine.RecordCommit(tx)
	return newID, nil
}

// Get fetches a document by id and decodes it into v. Returns false if no
// such document is visible.
func (c *Collection) Get(id string, v any) (bool, error) {
	tx := c.engine.BeginTxn(true)
	defer tx.Rollback()

	data, ok, err := tx.GetByID(c.name, id)
	if err != nil || !ok {
		return ok, err
	}
	if v != nil {
		if err := c.codec.Deserialize(data, v); err != nil {
			return true, err
		}
	}
	return true, nil
}

// Update replaces the document at id with the encoded form of v. Returns
// false (no error) if id does not exist.
func (c *Collection) Update(id string, v any, indexFields map[string]any) (bool, error) {
	data, err := c.codec.Serialize(v)
	if err != nil {
		return false, err
	}
	if err := c.validate(data); err != nil {
		return false, err
	}

	tx := c.engine.BeginTxn(false)
	ok, err := tx.Update(c.name, id, data, indexFields)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if !ok {
		tx.Rollback()
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	c.engine.RecordCommit(tx)
	return true, nil
}

// Delete removes the document at id. Returns false (no error) if it does
// not exist.
func (c *Collection) Delete(id string) (bool, error) {
	tx := c.engine.BeginTxn(false)
	ok, err := tx.Delete(c.name, id)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	if !ok {
		tx.Rollback()
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	c.engine.RecordCommit(tx)
	return true, nil
}

// DocumentResult is one document produced by Find, still in encoded form
// next to its id so callers can decode lazily.
type DocumentResult struct {
	ID   string
	Data []byte
}

// Find runs pred against every visible document in the collection, reading
// within a single read-only transaction for a consistent snapshot.
func (c *Collection) Find(pred txn.Predicate) ([]DocumentResult, error) {
	tx := c.engine.BeginTxn(true)
	defer tx.Rollback()

	results, err := tx.Query(c.name, pred)
	if err != nil {
		return nil, fmt.Errorf("galdrdb: find in %q: %w", c.name, err)
	}
	out := make([]DocumentResult, len(results))
	for i, r := range results {
		out[i] = DocumentResult{ID: r.DocID, Data: r.Data}
	}
	return out, nil
}
