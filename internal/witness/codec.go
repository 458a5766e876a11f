// Package witness parses the arbiter registry's custom witness-type-string
// grammar and computes EIP-712 type hashes and struct hashes over the
// declared fields, the same way an on-chain verifier would derive them
// against the Mandate struct definition.
package witness

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrTypeParse is returned when a witness-type-string fails the grammar.
var ErrTypeParse = errors.New("witness type string parse error")

// ErrMissingField is returned when a declared field has no matching value.
var ErrMissingField = errors.New("missing witness field")

// Param is one field of the struct definition, in declaration order.
type Param struct {
	Type string
	Name string
}

// Schema is the parsed form of a witness-type-string:
//
//	TypeString  = Declaration ")" Definition
//	Declaration = StructName " " VariableName
//	Definition  = StructName "(" ParamList ")"
//	ParamList   = Param ("," Param)*
//	Param       = SolidityType " " FieldName
type Schema struct {
	StructName   string
	VariableName string
	Params       []Param
}

// Parse validates and decomposes a witness-type-string. It rejects any input
// that does not match the grammar exactly rather than tolerating a missing
// trailing paren.
func Parse(typeString string) (Schema, error) {
	if !strings.HasSuffix(strings.TrimSpace(typeString), ")") {
		return Schema{}, fmt.Errorf("%w: missing closing paren", ErrTypeParse)
	}
	segments := splitNonEmpty(typeString, ')')
	if len(segments) != 2 {
		return Schema{}, fmt.Errorf("%w: expected declaration and definition, found %d segment(s)", ErrTypeParse, len(segments))
	}
	declaration, definition := strings.TrimSpace(segments[0]), strings.TrimSpace(segments[1])

	declFields := strings.Fields(declaration)
	if len(declFields) != 2 {
		return Schema{}, fmt.Errorf("%w: malformed declaration %q", ErrTypeParse, declaration)
	}
	declStruct, variableName := declFields[0], declFields[1]

	openParen := strings.IndexByte(definition, '(')
	if openParen < 0 {
		return Schema{}, fmt.Errorf("%w: definition %q missing parameter list", ErrTypeParse, definition)
	}
	defStruct := strings.TrimSpace(definition[:openParen])
	if defStruct != declStruct {
		return Schema{}, fmt.Errorf("%w: struct name mismatch %q vs %q", ErrTypeParse, declStruct, defStruct)
	}

	params, err := parseParamList(definition[openParen+1:])
	if err != nil {
		return Schema{}, err
	}

	return Schema{StructName: declStruct, VariableName: variableName, Params: params}, nil
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	for _, part := range strings.Split(s, string(sep)) {
		if strings.TrimSpace(part) != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseParamList(raw string) ([]Param, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty parameter list", ErrTypeParse)
	}
	pieces := strings.Split(raw, ",")
	params := make([]Param, 0, len(pieces))
	for _, piece := range pieces {
		fields := strings.Fields(strings.TrimSpace(piece))
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: malformed parameter %q", ErrTypeParse, piece)
		}
		params = append(params, Param{Type: fields[0], Name: fields[1]})
	}
	return params, nil
}

// Canonical returns the EIP-712 canonical type string, e.g.
// "Mandate(uint256 chainId,...)" reduced to "Mandate(uint256,...)".
func (s Schema) Canonical() string {
	types := make([]string, len(s.Params))
	for i, p := range s.Params {
		types[i] = p.Type
	}
	return s.StructName + "(" + strings.Join(types, ",") + ")"
}

// TypeHash returns keccak256(utf8(canonical)).
func (s Schema) TypeHash() [32]byte {
	return crypto.Keccak256Hash([]byte(s.Canonical()))
}

// StructHash ABI-encodes the supplied field values against the schema's
// declared Solidity types, in declaration order, and returns
// keccak256(typeHash ++ abi_encode(values)). The codec accepts any valid
// Solidity type name, not just the uint256/address/bytes32 trio the Mandate
// struct happens to use.
func (s Schema) StructHash(values map[string]interface{}) ([32]byte, error) {
	arguments := make(abi.Arguments, 0, len(s.Params))
	packed := make([]interface{}, 0, len(s.Params))
	for _, p := range s.Params {
		value, ok := values[p.Name]
		if !ok {
			return [32]byte{}, fmt.Errorf("%w: %s", ErrMissingField, p.Name)
		}
		abiType, err := abi.NewType(p.Type, "", nil)
		if err != nil {
			return [32]byte{}, fmt.Errorf("%w: unsupported solidity type %q for field %s: %v", ErrTypeParse, p.Type, p.Name, err)
		}
		arguments = append(arguments, abi.Argument{Type: abiType})
		packed = append(packed, value)
	}

	encoded, err := arguments.Pack(packed...)
	if err != nil {
		return [32]byte{}, fmt.Errorf("abi encode witness fields: %w", err)
	}

	typeHash := s.TypeHash()
	buf := make([]byte, 0, len(typeHash)+len(encoded))
	buf = append(buf, typeHash[:]...)
	buf = append(buf, encoded...)
	return crypto.Keccak256Hash(buf), nil
}
