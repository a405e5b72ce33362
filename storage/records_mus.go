package storage

import (
	"time"

	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/ragqa/core"
)

// MUS serializers for persisted records. Timestamps are stored as Unix
// microseconds, with 0 reserved for the zero time.
var (
	DocumentMUS       = documentMUS{}
	IndexEntryMUS     = indexEntryMUS{}
	SnapshotHeaderMUS = snapshotHeaderMUS{}
)

var (
	_ mus.Serializer[core.Document]   = DocumentMUS
	_ mus.Serializer[core.IndexEntry] = IndexEntryMUS
	_ mus.Serializer[SnapshotHeader]  = SnapshotHeaderMUS
)

type documentMUS struct{}

func (documentMUS) Marshal(v core.Document, bs []byte) (n int) {
	n = ord.String.Marshal(string(v.ID), bs)
	n += ord.String.Marshal(v.Filename, bs[n:])
	n += varint.Int.Marshal(int(v.State), bs[n:])
	n += varint.Int.Marshal(v.ChunkCount, bs[n:])
	n += varint.Int64.Marshal(v.SizeBytes, bs[n:])
	n += ord.String.Marshal(v.Checksum, bs[n:])
	n += ord.String.Marshal(v.ErrorDetail, bs[n:])
	n += varint.Int64.Marshal(timeToMicro(v.CreatedAt), bs[n:])
	n += varint.Int64.Marshal(timeToMicro(v.UpdatedAt), bs[n:])
	n += varint.Int64.Marshal(timeToMicro(v.ProcessedAt), bs[n:])
	return
}

func (documentMUS) Unmarshal(bs []byte) (v core.Document, n int, err error) {
	d := decoder{bs: bs}
	v.ID = core.DocumentID(d.readString())
	v.Filename = d.readString()
	v.State = core.DocumentState(d.readInt())
	v.ChunkCount = d.readInt()
	v.SizeBytes = d.readInt64()
	v.Checksum = d.readString()
	v.ErrorDetail = d.readString()
	v.CreatedAt = d.readTime()
	v.UpdatedAt = d.readTime()
	v.ProcessedAt = d.readTime()
	return v, d.n, d.err
}

func (documentMUS) Size(v core.Document) (size int) {
	size = ord.String.Size(string(v.ID))
	size += ord.String.Size(v.Filename)
	size += varint.Int.Size(int(v.State))
	size += varint.Int.Size(v.ChunkCount)
	size += varint.Int64.Size(v.SizeBytes)
	size += ord.String.Size(v.Checksum)
	size += ord.String.Size(v.ErrorDetail)
	size += varint.Int64.Size(timeToMicro(v.CreatedAt))
	size += varint.Int64.Size(timeToMicro(v.UpdatedAt))
	size += varint.Int64.Size(timeToMicro(v.ProcessedAt))
	return
}

func (s documentMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type indexEntryMUS struct{}

func (indexEntryMUS) Marshal(v core.IndexEntry, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(v.ID), bs)
	n += varint.Int.Marshal(len(v.Vector), bs[n:])
	for _, f := range v.Vector {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	n += ord.String.Marshal(string(v.Meta.DocumentID), bs[n:])
	n += ord.String.Marshal(v.Meta.Filename, bs[n:])
	n += varint.Int.Marshal(v.Meta.ChunkIndex, bs[n:])
	n += ord.String.Marshal(v.Meta.Text, bs[n:])
	n += varint.Int.Marshal(v.Meta.Start, bs[n:])
	n += varint.Int.Marshal(v.Meta.End, bs[n:])
	return
}

func (indexEntryMUS) Unmarshal(bs []byte) (v core.IndexEntry, n int, err error) {
	d := decoder{bs: bs}
	v.ID = core.EntryID(d.readUint64())
	dim := d.readInt()
	if d.err == nil && (dim < 0 || dim > len(bs)) {
		return v, d.n, ErrTruncatedData
	}
	if d.err == nil {
		v.Vector = make([]float32, dim)
		for i := range v.Vector {
			v.Vector[i] = d.readFloat32()
		}
	}
	v.Meta.DocumentID = core.DocumentID(d.readString())
	v.Meta.Filename = d.readString()
	v.Meta.ChunkIndex = d.readInt()
	v.Meta.Text = d.readString()
	v.Meta.Start = d.readInt()
	v.Meta.End = d.readInt()
	return v, d.n, d.err
}

func (indexEntryMUS) Size(v core.IndexEntry) (size int) {
	size = varint.Uint64.Size(uint64(v.ID))
	size += varint.Int.Size(len(v.Vector))
	for _, f := range v.Vector {
		size += raw.Float32.Size(f)
	}
	size += ord.String.Size(string(v.Meta.DocumentID))
	size += ord.String.Size(v.Meta.Filename)
	size += varint.Int.Size(v.Meta.ChunkIndex)
	size += ord.String.Size(v.Meta.Text)
	size += varint.Int.Size(v.Meta.Start)
	size += varint.Int.Size(v.Meta.End)
	return
}

func (s indexEntryMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

type snapshotHeaderMUS struct{}

func (snapshotHeaderMUS) Marshal(v SnapshotHeader, bs []byte) (n int) {
	n = varint.Uint64.Marshal(v.Generation, bs)
	n += varint.Int.Marshal(v.Dimension, bs[n:])
	n += varint.Uint64.Marshal(v.NextID, bs[n:])
	n += varint.Int.Marshal(v.Count, bs[n:])
	n += varint.Int64.Marshal(timeToMicro(v.SavedAt), bs[n:])
	return
}

func (snapshotHeaderMUS) Unmarshal(bs []byte) (v SnapshotHeader, n int, err error) {
	d := decoder{bs: bs}
	v.Generation = d.readUint64()
	v.Dimension = d.readInt()
	v.NextID = d.readUint64()
	v.Count = d.readInt()
	v.SavedAt = d.readTime()
	return v, d.n, d.err
}

func (snapshotHeaderMUS) Size(v SnapshotHeader) (size int) {
	size = varint.Uint64.Size(v.Generation)
	size += varint.Int.Size(v.Dimension)
	size += varint.Uint64.Size(v.NextID)
	size += varint.Int.Size(v.Count)
	size += varint.Int64.Size(timeToMicro(v.SavedAt))
	return
}

func (s snapshotHeaderMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

// decoder reads consecutive fields and keeps the first error.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) readString() (v string) {
	if d.err != nil {
		return
	}
	var m int
	v, m, d.err = ord.String.Unmarshal(d.bs[d.n:])
	d.n += m
	return
}

func (d *decoder) readInt() (v int) {
	if d.err != nil {
		return
	}
	var m int
	v, m, d.err = varint.Int.Unmarshal(d.bs[d.n:])
	d.n += m
	return
}

func (d *decoder) readInt64() (v int64) {
	if d.err != nil {
		return
	}
	var m int
	v, m, d.err = varint.Int64.Unmarshal(d.bs[d.n:])
	d.n += m
	return
}

func (d *decoder) readUint64() (v uint64) {
	if d.err != nil {
		return
	}
	var m int
	v, m, d.err = varint.Uint64.Unmarshal(d.bs[d.n:])
	d.n += m
	return
}

func (d *decoder) readFloat32() (v float32) {
	if d.err != nil {
		return
	}
	var m int
	v, m, d.err = raw.Float32.Unmarshal(d.bs[d.n:])
	d.n += m
	return
}

func (d *decoder) readTime() time.Time {
	return microToTime(d.readInt64())
}

func timeToMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func microToTime(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}
