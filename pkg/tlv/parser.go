// Package tlv provides a strict BER-TLV codec and high-level utilities for
// mapping decoded data objects into Go structures using struct tags.
package tlv

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Unmarshaler allows custom types to implement their own TLV parsing logic.
type Unmarshaler interface {
	UnmarshalTLV(data []byte) error
}

var nodeType = reflect.TypeOf(Node{})

// Unmarshal parses raw BER-TLV data and maps it into a target Go struct.
func Unmarshal(data []byte, target interface{}) error {
	nodes, err := DecodeAll(data)
	if err != nil {
		return fmt.Errorf("tlv decode failed: %w", err)
	}
	return UnmarshalNodes(nodes, target)
}

// UnmarshalNodes maps a slice of pre-decoded nodes to a target struct.
// It supports multiple occurrences of the same tag if the target field is a slice.
func UnmarshalNodes(nodes []Node, target interface{}) error {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}
	v = v.Elem()
	t := v.Type()

	consumed := make(map[int]bool)

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		tagConfig := fieldType.Tag.Get("tlv")

		if tagConfig == "" || tagConfig == ",unknown" || fieldType.Name == "Unknown" {
			continue
		}

		tag, err := parseTagConfig(tagConfig)
		if err != nil {
			return fmt.Errorf("field %s: %w", fieldType.Name, err)
		}

		for idx, n := range nodes {
			if n.Tag == tag {
				if err := mapNodeToField(n, field); err != nil {
					return fmt.Errorf("field %s (tag %s): %w", fieldType.Name, tag, err)
				}
				consumed[idx] = true
			}
		}
	}

	return handleUnknownFields(v, t, nodes, consumed)
}

func parseTagConfig(cfg string) (Tag, error) {
	tagHex := strings.Split(cfg, ",")[0]
	v, err := strconv.ParseUint(tagHex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid tlv struct tag %q", cfg)
	}
	return Tag(v), nil
}

// mapNodeToField dispatches the TLV data to the appropriate reflection logic.
func mapNodeToField(n Node, field reflect.Value) error {
	// Slices of structs or nodes grow by one element per occurrence.
	if field.Kind() == reflect.Slice && !isByteSlice(field) {
		newElem := reflect.New(field.Type().Elem()).Elem()
		if err := decodeToValue(n, newElem); err != nil {
			return err
		}
		field.Set(reflect.Append(field, newElem))
		return nil
	}

	return decodeToValue(n, field)
}

// decodeToValue handles the leaf decoding (Node, Unmarshaler, byte slice, string, struct).
func decodeToValue(n Node, field reflect.Value) error {
	if field.Type() == nodeType {
		field.Set(reflect.ValueOf(n))
		return nil
	}

	if field.CanAddr() {
		if u, ok := field.Addr().Interface().(Unmarshaler); ok {
			return u.UnmarshalTLV(n.Content())
		}
	}

	if isByteSlice(field) {
		field.SetBytes(n.Content())
		return nil
	}

	// Strings receive the hex representation.
	if field.Kind() == reflect.String {
		field.SetString(hex.EncodeToString(n.Content()))
		return nil
	}

	if isStructOrPtrToStruct(field) {
		target := getTargetField(field)
		if n.Constructed() {
			return UnmarshalNodes(n.Children, target.Interface())
		}
		return Unmarshal(n.Value, target.Interface())
	}

	return nil
}

func handleUnknownFields(v reflect.Value, t reflect.Type, nodes []Node, consumed map[int]bool) error {
	unknownField, found := findUnknownField(v, t)
	if !found {
		return nil
	}

	var leftovers []Node
	for idx, n := range nodes {
		if !consumed[idx] {
			leftovers = append(leftovers, n)
		}
	}

	if len(leftovers) > 0 && unknownField.CanSet() {
		unknownField.Set(reflect.ValueOf(leftovers))
	}
	return nil
}

func findUnknownField(v reflect.Value, t reflect.Type) (reflect.Value, bool) {
	for i := 0; i < v.NumField(); i++ {
		tag := t.Field(i).Tag.Get("tlv")
		if tag == ",unknown" || t.Field(i).Name == "Unknown" {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// GetValue scans the raw data for a top-level tag and returns its value field.
func GetValue(data []byte, tag Tag) ([]byte, error) {
	nodes, err := DecodeAll(data)
	if err != nil {
		return nil, err
	}

	n, ok := Find(nodes, tag)
	if !ok {
		return nil, fmt.Errorf("tag %s not found", tag)
	}
	return n.Content(), nil
}

func isByteSlice(v reflect.Value) bool {
	return v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8
}

func isStructOrPtrToStruct(v reflect.Value) bool {
	if v.Kind() == reflect.Struct {
		return true
	}
	if v.Kind() == reflect.Ptr && v.Type().Elem().Kind() == reflect.Struct {
		return true
	}
	return false
}

func getTargetField(field reflect.Value) reflect.Value {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return field
	}
	return field.Addr()
}
