package crdt

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/plumeworks/plume/backend/internal/content"
)

// stateMagic prefixes every encoded state so readers can reject arbitrary
// bytes before parsing.
var stateMagic = [4]byte{'P', 'D', 'S', '1'}

var nodeKindCodes = map[content.NodeKind]byte{
	content.NodeKindHeading:    1,
	content.NodeKindParagraph:  2,
	content.NodeKindBlockquote: 3,
	content.NodeKindCodeBlock:  4,
	content.NodeKindList:       5,
	content.NodeKindListItem:   6,
	content.NodeKindImage:      7,
	content.NodeKindDivider:    8,
	content.NodeKindUnknown:    9,
}

var nodeKindsByCode = map[byte]content.NodeKind{
	1: content.NodeKindHeading,
	2: content.NodeKindParagraph,
	3: content.NodeKindBlockquote,
	4: content.NodeKindCodeBlock,
	5: content.NodeKindList,
	6: content.NodeKindListItem,
	7: content.NodeKindImage,
	8: content.NodeKindDivider,
	9: content.NodeKindUnknown,
}

var markTypeCodes = map[content.MarkType]byte{
	content.MarkTypeBold:   1,
	content.MarkTypeItalic: 2,
	content.MarkTypeCode:   3,
	content.MarkTypeLink:   4,
}

var markTypesByCode = map[byte]content.MarkType{
	1: content.MarkTypeBold,
	2: content.MarkTypeItalic,
	3: content.MarkTypeCode,
	4: content.MarkTypeLink,
}

const itemFlagDeleted = 0x01

// Encode serializes the full state into its canonical wire form. The encoding
// is a pure function of the state: equal states encode to equal bytes.
func Encode(state State) ([]byte, error) {
	buffer := make([]byte, 0, 64+len(state.Items)*32)
	buffer = append(buffer, stateMagic[:]...)
	buffer = binary.AppendUvarint(buffer, state.Replica)
	buffer = binary.AppendUvarint(buffer, state.Clock)
	buffer = binary.AppendUvarint(buffer, uint64(len(state.Items)))
	for index, item := range state.Items {
		kindCode, ok := nodeKindCodes[item.Node.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: item %d has unencodable kind %q", ErrCorruptState, index, item.Node.Kind)
		}
		buffer = binary.AppendUvarint(buffer, item.ID.Replica)
		buffer = binary.AppendUvarint(buffer, item.ID.Clock)
		buffer = binary.AppendUvarint(buffer, item.Origin.Replica)
		buffer = binary.AppendUvarint(buffer, item.Origin.Clock)
		buffer = binary.AppendUvarint(buffer, uint64(item.Depth))
		flags := byte(0)
		if item.Deleted {
			flags |= itemFlagDeleted
		}
		buffer = append(buffer, flags)
		buffer = append(buffer, kindCode)
		buffer = binary.AppendUvarint(buffer, uint64(item.Node.Level))
		buffer = appendWireBool(buffer, item.Node.Ordered)
		buffer = appendWireString(buffer, item.Node.Language)
		buffer = appendWireString(buffer, item.Node.Source)
		buffer = appendWireString(buffer, item.Node.AltText)
		buffer = appendWireString(buffer, item.Node.Caption)
		buffer = appendWireString(buffer, item.Node.RawKind)
		buffer = appendWireString(buffer, item.Node.RawJSON)
		buffer = binary.AppendUvarint(buffer, uint64(len(item.Node.Spans)))
		for _, span := range item.Node.Spans {
			buffer = appendWireString(buffer, span.Text)
			buffer = binary.AppendUvarint(buffer, uint64(len(span.Marks)))
			for _, mark := range span.Marks {
				markCode, markOK := markTypeCodes[mark.Type]
				if !markOK {
					return nil, fmt.Errorf("%w: item %d has unencodable mark %q", ErrCorruptState, index, mark.Type)
				}
				buffer = append(buffer, markCode)
				buffer = appendWireString(buffer, mark.Href)
			}
		}
	}
	return buffer, nil
}

// Decode reconstructs state from its wire form. Any structural defect, from a
// missing magic prefix to trailing garbage, fails with ErrCorruptState.
func Decode(encoded []byte) (State, error) {
	reader := &wireReader{data: encoded}
	magic, err := reader.bytes(len(stateMagic))
	if err != nil {
		return State{}, err
	}
	if string(magic) != string(stateMagic[:]) {
		return State{}, fmt.Errorf("%w: bad magic prefix", ErrCorruptState)
	}

	state := State{}
	if state.Replica, err = reader.uvarint(); err != nil {
		return State{}, err
	}
	if state.Clock, err = reader.uvarint(); err != nil {
		return State{}, err
	}
	itemCount, err := reader.uvarint()
	if err != nil {
		return State{}, err
	}
	if itemCount > uint64(reader.remaining()) {
		return State{}, fmt.Errorf("%w: item count %d exceeds payload", ErrCorruptState, itemCount)
	}

	previousDepth := -1
	state.Items = make([]Item, 0, itemCount)
	for index := uint64(0); index < itemCount; index++ {
		item, itemErr := reader.item()
		if itemErr != nil {
			return State{}, fmt.Errorf("item %d: %w", index, itemErr)
		}
		if item.Depth > previousDepth+1 {
			return State{}, fmt.Errorf("%w: item %d jumps from depth %d to %d", ErrCorruptState, index, previousDepth, item.Depth)
		}
		previousDepth = item.Depth
		state.Items = append(state.Items, item)
	}

	if reader.remaining() != 0 {
		return State{}, fmt.Errorf("%w: %d trailing bytes", ErrCorruptState, reader.remaining())
	}
	return state, nil
}

func appendWireString(buffer []byte, value string) []byte {
	buffer = binary.AppendUvarint(buffer, uint64(len(value)))
	return append(buffer, value...)
}

func appendWireBool(buffer []byte, value bool) []byte {
	if value {
		return append(buffer, 1)
	}
	return append(buffer, 0)
}

type wireReader struct {
	data   []byte
	offset int
}

func (r *wireReader) remaining() int {
	return len(r.data) - r.offset
}

func (r *wireReader) bytes(count int) ([]byte, error) {
	if count < 0 || r.remaining() < count {
		return nil, fmt.Errorf("%w: truncated at offset %d", ErrCorruptState, r.offset)
	}
	value := r.data[r.offset : r.offset+count]
	r.offset += count
	return value, nil
}

func (r *wireReader) byteValue() (byte, error) {
	value, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return value[0], nil
}

func (r *wireReader) uvarint() (uint64, error) {
	value, width := binary.Uvarint(r.data[r.offset:])
	if width <= 0 {
		return 0, fmt.Errorf("%w: invalid varint at offset %d", ErrCorruptState, r.offset)
	}
	r.offset += width
	return value, nil
}

func (r *wireReader) stringValue() (string, error) {
	length, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if length > uint64(r.remaining()) {
		return "", fmt.Errorf("%w: string length %d exceeds payload", ErrCorruptState, length)
	}
	raw, err := r.bytes(int(length))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (r *wireReader) boolValue() (bool, error) {
	value, err := r.byteValue()
	if err != nil {
		return false, err
	}
	switch value {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: invalid bool byte %d", ErrCorruptState, value)
	}
}

func (r *wireReader) item() (Item, error) {
	item := Item{}
	var err error
	if item.ID.Replica, err = r.uvarint(); err != nil {
		return Item{}, err
	}
	if item.ID.Clock, err = r.uvarint(); err != nil {
		return Item{}, err
	}
	if item.Origin.Replica, err = r.uvarint(); err != nil {
		return Item{}, err
	}
	if item.Origin.Clock, err = r.uvarint(); err != nil {
		return Item{}, err
	}
	depth, err := r.uvarint()
	if err != nil {
		return Item{}, err
	}
	// Guard the int conversion: a depth beyond any real tree would wrap
	// negative and slip past the monotonic-depth check in Decode.
	if depth > math.MaxInt32 {
		return Item{}, fmt.Errorf("%w: item depth %d out of range", ErrCorruptState, depth)
	}
	item.Depth = int(depth)

	flags, err := r.byteValue()
	if err != nil {
		return Item{}, err
	}
	if flags&^byte(itemFlagDeleted) != 0 {
		return Item{}, fmt.Errorf("%w: unrecognized item flags %#x", ErrCorruptState, flags)
	}
	item.Deleted = flags&itemFlagDeleted != 0

	kindCode, err := r.byteValue()
	if err != nil {
		return Item{}, err
	}
	kind, ok := nodeKindsByCode[kindCode]
	if !ok {
		return Item{}, fmt.Errorf("%w: unrecognized node kind code %d", ErrCorruptState, kindCode)
	}
	item.Node.Kind = kind

	level, err := r.uvarint()
	if err != nil {
		return Item{}, err
	}
	if level > math.MaxInt32 {
		return Item{}, fmt.Errorf("%w: heading level %d out of range", ErrCorruptState, level)
	}
	item.Node.Level = int(level)
	if item.Node.Ordered, err = r.boolValue(); err != nil {
		return Item{}, err
	}
	if item.Node.Language, err = r.stringValue(); err != nil {
		return Item{}, err
	}
	if item.Node.Source, err = r.stringValue(); err != nil {
		return Item{}, err
	}
	if item.Node.AltText, err = r.stringValue(); err != nil {
		return Item{}, err
	}
	if item.Node.Caption, err = r.stringValue(); err != nil {
		return Item{}, err
	}
	if item.Node.RawKind, err = r.stringValue(); err != nil {
		return Item{}, err
	}
	if item.Node.RawJSON, err = r.stringValue(); err != nil {
		return Item{}, err
	}

	spanCount, err := r.uvarint()
	if err != nil {
		return Item{}, err
	}
	if spanCount > uint64(r.remaining()) {
		return Item{}, fmt.Errorf("%w: span count %d exceeds payload", ErrCorruptState, spanCount)
	}
	for spanIndex := uint64(0); spanIndex < spanCount; spanIndex++ {
		span := content.Span{}
		if span.Text, err = r.stringValue(); err != nil {
			return Item{}, err
		}
		markCount, markErr := r.uvarint()
		if markErr != nil {
			return Item{}, markErr
		}
		if markCount > uint64(r.remaining()) {
			return Item{}, fmt.Errorf("%w: mark count %d exceeds payload", ErrCorruptState, markCount)
		}
		for markIndex := uint64(0); markIndex < markCount; markIndex++ {
			markCode, codeErr := r.byteValue()
			if codeErr != nil {
				return Item{}, codeErr
			}
			markType, markOK := markTypesByCode[markCode]
			if !markOK {
				return Item{}, fmt.Errorf("%w: unrecognized mark code %d", ErrCorruptState, markCode)
			}
			href, hrefErr := r.stringValue()
			if hrefErr != nil {
				return Item{}, hrefErr
			}
			span.Marks = append(span.Marks, content.Mark{Type: markType, Href: href})
		}
		item.Node.Spans = append(item.Node.Spans, span)
	}
	return item, nil
}
