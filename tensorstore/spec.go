// Package tensorstore implements a chunked, self-describing array store.
//
// Every stored array is addressed by a Spec, a JSON-like structured document
// naming the driver, the location (kvstore) and the format metadata (shape,
// chunk shape, compression, dtype). The spec a writer used is reusable
// unmodified by the reader of the same artifact, which is what makes
// checkpoints self-describing.
//
// Two drivers are provided:
//
//   - "zarr": a directory with a metadata.json file and one gzip-compressed
//     file per chunk, named by its grid coordinates ("0.0").
//   - "cast": a virtual driver wrapping a base spec, converting element types
//     on the fly during reads and writes.
//
// Writes are two-phase: TensorStore.Write returns a WriteHandle with two
// separately awaitable futures, CopyDone (the value's buffer may be reused)
// and Commit (the data is durable). Chunk-granular writes let many workers
// write disjoint shards of one logical array without coordination.
package tensorstore

import (
	"encoding/json"

	"github.com/mehdiataei/orbax/types/dtypes"
	"github.com/pkg/errors"
)

// Driver names understood by Open.
const (
	ZarrDriver = "zarr"
	CastDriver = "cast"
	FileDriver = "file"
)

// Compressor identifies the compression codec of stored chunks.
type Compressor struct {
	ID string `json:"id"`
}

// Metadata is the format section of a Spec: the array's global shape, its
// chunk shape and optional compression. For sharded arrays the chunk shape
// matches the per-shard shape.
type Metadata struct {
	Shape      []int       `json:"shape"`
	Chunks     []int       `json:"chunks"`
	Compressor *Compressor `json:"compressor,omitempty"`
}

// KVStore locates the underlying key-value storage of a driver.
type KVStore struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

// Spec is the structured document describing where and how an array is
// stored. It is produced by the checkpoint layer, consumed by Open, and
// embedded (as metadata.json) in the store itself.
//
// DType is the element type name (see dtypes.FromName); it is optional in
// specs produced for sharded arrays, where the "cast" envelope supplies it at
// write/read time. Base is only set for the "cast" driver.
type Spec struct {
	Driver   string    `json:"driver"`
	KVStore  *KVStore  `json:"kvstore,omitempty"`
	DType    string    `json:"dtype,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`
	Base     *Spec     `json:"base,omitempty"`
}

// SpecForPath returns the base spec addressing a file-backed array at path.
func SpecForPath(path string) *Spec {
	return &Spec{
		Driver:  ZarrDriver,
		KVStore: &KVStore{Driver: FileDriver, Path: path},
	}
}

// Clone returns a deep copy of the spec.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	clone := *s
	if s.KVStore != nil {
		kv := *s.KVStore
		clone.KVStore = &kv
	}
	if s.Metadata != nil {
		meta := *s.Metadata
		meta.Shape = append([]int(nil), s.Metadata.Shape...)
		meta.Chunks = append([]int(nil), s.Metadata.Chunks...)
		if s.Metadata.Compressor != nil {
			comp := *s.Metadata.Compressor
			meta.Compressor = &comp
		}
		clone.Metadata = &meta
	}
	clone.Base = s.Base.Clone()
	return &clone
}

// dtype parses the spec's DType field; InvalidDType when unset.
func (s *Spec) dtype() (dtypes.DType, error) {
	if s.DType == "" {
		return dtypes.InvalidDType, nil
	}
	dtype, found := dtypes.FromName(s.DType)
	if !found {
		return dtypes.InvalidDType, errors.Errorf("tensorstore: spec has unknown dtype %q", s.DType)
	}
	return dtype, nil
}

// String renders the spec as compact JSON.
func (s *Spec) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "<invalid spec>"
	}
	return string(data)
}
