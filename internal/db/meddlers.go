package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("hash", hexMeddler[common.Hash]{parse: common.HexToHash})
	meddler.Register("address", hexMeddler[common.Address]{parse: common.HexToAddress})
}

type hexValue interface {
	common.Hash | common.Address
	Hex() string
}

// hexMeddler stores fixed size chain identifiers as hex strings.
// Both value and pointer fields are supported; NULL maps to the zero value or nil.
type hexMeddler[T hexValue] struct {
	parse func(string) T
}

func (m hexMeddler[T]) PreRead(fieldAddr any) (any, error) {
	return new(sql.NullString), nil
}

func (m hexMeddler[T]) PostRead(fieldAddr, scanTarget any) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	switch ptr := fieldAddr.(type) {
	case **T:
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		v := m.parse(ns.String)
		*ptr = &v
	case *T:
		if !ns.Valid {
			var zero T
			*ptr = zero
			return nil
		}
		*ptr = m.parse(ns.String)
	default:
		return fmt.Errorf("unsupported field type %T", fieldAddr)
	}

	return nil
}

func (m hexMeddler[T]) PreWrite(field any) (any, error) {
	switch v := field.(type) {
	case *T:
		if v == nil {
			return nil, nil
		}
		return (*v).Hex(), nil
	case T:
		return v.Hex(), nil
	default:
		return nil, fmt.Errorf("unsupported field type %T", field)
	}
}
