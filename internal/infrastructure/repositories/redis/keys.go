package redis

import (
	"strconv"
	"time"

	"github.com/pkg/errors"

	"oidkeeper/internal/domain/models"
)

const (
	fieldData = "data"
	fieldSeq  = "seq"
	fieldAt   = "at"
	fieldBy   = "by"
)

type keyspace string

// objectKey is the hash holding one stored object
func (k keyspace) objectKey(oid models.Oid) string {
	return string(k) + ":obj:" + oid.TypeTag() + ":" + oid.PrimaryKey()
}

// indexKey is the set of primary keys stored for a type tag
func (k keyspace) indexKey(typeTag string) string {
	return string(k) + ":idx:" + typeTag
}

func versionFields(data []byte, v models.Version) map[string]any {
	return map[string]any{
		fieldData: data,
		fieldSeq:  strconv.FormatInt(v.Sequence, 10),
		fieldAt:   v.At.UTC().Format(time.RFC3339Nano),
		fieldBy:   v.By,
	}
}

// parseObject decodes an object hash; ok is false for an absent object
func parseObject(fields map[string]string) (data []byte, v models.Version, ok bool, err error) {
	seq, present := fields[fieldSeq]
	if !present {
		return nil, v, false, nil
	}
	if v.Sequence, err = strconv.ParseInt(seq, 10, 64); err != nil {
		return nil, v, false, errors.Wrap(err, "malformed object sequence")
	}
	if at := fields[fieldAt]; at != "" {
		if v.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, v, false, errors.Wrap(err, "malformed object timestamp")
		}
	}
	v.By = fields[fieldBy]
	return []byte(fields[fieldData]), v, true, nil
}
