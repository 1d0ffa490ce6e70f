package decoder

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/goran-ethernal/ChainSync/pkg/store"
	"github.com/shopspring/decimal"
)

// ErrUnknownEvent is returned for logs whose first topic is not a tracked event.
var ErrUnknownEvent = errors.New("unknown event")

// Result is the outcome of decoding one log. Exactly one of Doc and Err is set.
type Result struct {
	Doc *store.Document
	Err error
}

// OK reports whether the log decoded into a document.
func (r Result) OK() bool {
	return r.Err == nil
}

type trackedEvent struct {
	event     abi.Event
	schema    *EventSchema
	userField string
	userTopic int
}

// Decoder turns raw logs of tracked events into documents.
type Decoder struct {
	byID   map[common.Hash]*trackedEvent
	byName map[string]*trackedEvent
	order  []string
	log    *logger.Logger
}

// LoadABI reads a JSON ABI file.
func LoadABI(path string) (abi.ABI, error) {
	f, err := os.Open(path)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to open ABI file: %w", err)
	}
	defer f.Close()

	parsed, err := abi.JSON(f)
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI file %s: %w", path, err)
	}

	return parsed, nil
}

// New creates a Decoder for the configured events of contract.
func New(contract abi.ABI, events []config.EventConfig, log *logger.Logger) (*Decoder, error) {
	d := &Decoder{
		byID:   make(map[common.Hash]*trackedEvent, len(events)),
		byName: make(map[string]*trackedEvent, len(events)),
		log:    log,
	}

	for _, cfg := range events {
		event, ok := contract.Events[cfg.Name]
		if !ok {
			return nil, fmt.Errorf("event %s: %w", cfg.Name, ErrUnknownEvent)
		}

		schema, err := newEventSchema(event, cfg.AmountFields)
		if err != nil {
			return nil, err
		}

		tracked := &trackedEvent{event: event, schema: schema, userField: cfg.UserField}
		if cfg.UserField != "" {
			tracked.userTopic, err = userTopicIndex(event, cfg.UserField)
			if err != nil {
				return nil, err
			}
		}

		d.byID[event.ID] = tracked
		d.byName[event.Name] = tracked
		d.order = append(d.order, event.Name)
	}

	return d, nil
}

// userTopicIndex returns the topic position of an indexed address input.
func userTopicIndex(event abi.Event, field string) (int, error) {
	topic := 1
	for _, input := range event.Inputs {
		if !input.Indexed {
			continue
		}
		if input.Name == field {
			if input.Type.T != abi.AddressTy {
				return 0, fmt.Errorf("user field %s of %s must be an address", field, event.Name)
			}
			return topic, nil
		}
		topic++
	}

	return 0, fmt.Errorf("user field %s of %s must be an indexed input", field, event.Name)
}

// Events returns the tracked event names in configuration order.
func (d *Decoder) Events() []string {
	return d.order
}

// EventID returns the topic of the named event.
func (d *Decoder) EventID(name string) (common.Hash, bool) {
	t, ok := d.byName[name]
	if !ok {
		return common.Hash{}, false
	}
	return t.event.ID, true
}

// UserTopic returns the topic position of the user field of the named event, or zero.
func (d *Decoder) UserTopic(name string) int {
	if t, ok := d.byName[name]; ok {
		return t.userTopic
	}
	return 0
}

// Schema returns the schema of the named event.
func (d *Decoder) Schema(name string) (*EventSchema, bool) {
	t, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return t.schema, true
}

// Schemas returns every tracked schema in configuration order.
func (d *Decoder) Schemas() []*EventSchema {
	out := make([]*EventSchema, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.byName[name].schema)
	}
	return out
}

// Topics returns the topic filter matching every tracked event.
func (d *Decoder) Topics() [][]common.Hash {
	ids := make([]common.Hash, 0, len(d.order))
	for _, name := range d.order {
		ids = append(ids, d.byName[name].event.ID)
	}
	return [][]common.Hash{ids}
}

// Decode turns l into a document. timestamp is the time of the block holding l.
func (d *Decoder) Decode(l types.Log, timestamp uint64) Result {
	doc, err := d.decode(l, timestamp)
	if err != nil {
		decodeFailuresInc(eventLabel(d, l))
		return Result{Err: fmt.Errorf("failed to decode log %s: %w", store.DocumentID(l.TxHash, l.Index), err)}
	}

	decodedInc(doc.EventType)
	return Result{Doc: doc}
}

// DecodeAll decodes logs, looking up block timestamps with timestampOf.
func (d *Decoder) DecodeAll(logs []types.Log, timestampOf func(block uint64) uint64) []Result {
	results := make([]Result, len(logs))
	for i, l := range logs {
		results[i] = d.Decode(l, timestampOf(l.BlockNumber))
	}
	return results
}

func (d *Decoder) decode(l types.Log, timestamp uint64) (*store.Document, error) {
	if l.Removed {
		return nil, errors.New("log was removed by a reorg")
	}
	if len(l.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics: %w", ErrUnknownEvent)
	}

	tracked, ok := d.byID[l.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("topic %s: %w", l.Topics[0].Hex(), ErrUnknownEvent)
	}

	event := tracked.event
	raw := make(map[string]any, len(event.Inputs))

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}
	if len(l.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("event %s expects %d indexed topics, got %d", event.Name, len(indexed), len(l.Topics)-1)
	}
	if err := abi.ParseTopicsIntoMap(raw, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse topics of %s: %w", event.Name, err)
	}
	if err := event.Inputs.UnpackIntoMap(raw, l.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack data of %s: %w", event.Name, err)
	}

	fields := make(map[string]any, len(raw))
	for _, f := range tracked.schema.Fields {
		v, ok := raw[f.Name]
		if !ok {
			return nil, &SchemaError{Event: event.Name, Field: f.Name, Reason: "missing"}
		}

		normalized, err := normalizeField(f, v)
		if err != nil {
			return nil, &SchemaError{Event: event.Name, Field: f.Name, Reason: err.Error()}
		}
		fields[f.Name] = normalized
	}

	if err := tracked.schema.Validate(fields); err != nil {
		return nil, err
	}

	return &store.Document{
		ID:          store.DocumentID(l.TxHash, l.Index),
		EventType:   event.Name,
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		LogIndex:    l.Index,
		Address:     l.Address,
		Timestamp:   timestamp,
		Fields:      fields,
	}, nil
}

func normalizeField(f FieldSchema, v any) (any, error) {
	if f.Kind != KindAmount {
		return normalize(reflect.ValueOf(v)), nil
	}

	amount, ok := v.(*big.Int)
	if !ok || amount == nil {
		return nil, fmt.Errorf("expected integer amount, got %T", v)
	}
	return decimal.NewFromBigInt(amount, -f.Decimals).String(), nil
}

// normalize converts decoded ABI values into JSON friendly values:
// addresses and byte strings become hex, integers become decimal strings.
func normalize(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}

	switch x := v.Interface().(type) {
	case common.Address:
		return x.Hex()
	case common.Hash:
		return x.Hex()
	case *big.Int:
		if x == nil {
			return "0"
		}
		return x.String()
	case []byte:
		return hexutil.Encode(x)
	case string:
		return x
	case bool:
		return x
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			return hexutil.Encode(b)
		}
		return normalizeList(v)
	case reflect.Slice:
		return normalizeList(v)
	case reflect.Struct:
		out := make(map[string]any, v.NumField())
		for i := range v.NumField() {
			field := v.Type().Field(i)
			name := field.Name
			if tag := field.Tag.Get("json"); tag != "" {
				name = strings.Split(tag, ",")[0]
			}
			out[name] = normalize(v.Field(i))
		}
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return normalize(v.Elem())
	default:
		return fmt.Sprint(v.Interface())
	}
}

func normalizeList(v reflect.Value) []any {
	out := make([]any, v.Len())
	for i := range v.Len() {
		out[i] = normalize(v.Index(i))
	}
	return out
}

func eventLabel(d *Decoder, l types.Log) string {
	if len(l.Topics) > 0 {
		if t, ok := d.byID[l.Topics[0]]; ok {
			return t.event.Name
		}
	}
	return "unknown"
}

// SortedFieldNames returns the field names of fields in lexical order.
func SortedFieldNames(fields map[string]any) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
