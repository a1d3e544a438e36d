package utils

import (
	"fmt"
	"reflect"
)

const columnTag = "db"

// StructTagValues returns the db column names of a struct's exported fields
// in declaration order. Fields tagged "-" or untagged are skipped.
func StructTagValues(input any) []string {
	var result []string
	eachColumn(input, func(column string, _ reflect.Value) {
		result = append(result, column)
	})
	return result
}

// StructToMap keys each tagged field's value by its db column name, ready for
// squirrel's SetMap.
func StructToMap(input any) map[string]any {
	result := make(map[string]any)
	eachColumn(input, func(column string, v reflect.Value) {
		result[column] = v.Interface()
	})
	return result
}

func eachColumn(input any, fn func(column string, v reflect.Value)) {
	value := reflect.ValueOf(input)
	if value.Kind() == reflect.Ptr {
		value = value.Elem()
	}

	if value.Kind() != reflect.Struct {
		panic("input must be a pointer to a struct or a struct")
	}

	typ := value.Type()
	for i := range value.NumField() {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}

		column := field.Tag.Get(columnTag)
		if column == "" || column == "-" {
			continue
		}

		fn(column, value.Field(i))
	}
}

func ErrorWrapOrNil(err error, msg string) error {
	if err == nil {
		return nil
	}

	if msg == "" {
		return err
	}

	return fmt.Errorf("%s: %w", msg, err)
}
