package serializers

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jackc/pgtype"
	"gorm.io/gorm/schema"
)

// TextArraySerializer maps a []string field onto a postgres TEXT[] column.
type TextArraySerializer struct{}

func init() {
	schema.RegisterSerializer("textarray", TextArraySerializer{})
}

var stringSliceType = reflect.TypeOf([]string(nil))

func (TextArraySerializer) Scan(ctx context.Context, field *schema.Field, dst reflect.Value, dbValue interface{}) error {
	if dbValue == nil {
		return nil
	} else if field.FieldType != stringSliceType {
		return fmt.Errorf("can only deserialize into a []string: %s", field.FieldType)
	}

	var arr pgtype.TextArray
	if err := arr.Scan(dbValue); err != nil {
		return fmt.Errorf("failed to scan value as text[]: %w", err)
	}
	var out []string
	if arr.Status == pgtype.Present {
		if err := arr.AssignTo(&out); err != nil {
			return err
		}
	}
	field.ReflectValueOf(ctx, dst).Set(reflect.ValueOf(out))
	return nil
}

func (TextArraySerializer) Value(ctx context.Context, field *schema.Field, dst reflect.Value, fieldValue interface{}) (interface{}, error) {
	if field.FieldType != stringSliceType {
		return nil, fmt.Errorf("can only serialize a []string: %s", field.FieldType)
	}
	values, _ := fieldValue.([]string)
	if values == nil {
		return nil, nil
	}

	var arr pgtype.TextArray
	if err := arr.Set(values); err != nil {
		return nil, err
	}
	return arr.Value()
}
