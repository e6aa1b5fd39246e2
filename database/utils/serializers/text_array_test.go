package serializers

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

type flagged struct {
	ID    int
	Flags []string `gorm:"serializer:textarray"`
	Name  string   `gorm:"serializer:textarray"`
}

func parseField(t *testing.T, name string) *schema.Field {
	s, err := schema.Parse(&flagged{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	field := s.LookUpField(name)
	require.NotNil(t, field)
	return field
}

func TestTextArrayRoundTrip(t *testing.T) {
	ctx := context.Background()
	field := parseField(t, "Flags")
	ser := TextArraySerializer{}

	in := []string{"network", "[network] rpc call failed: 429", "op=tx"}
	v, err := ser.Value(ctx, field, reflect.Value{}, in)
	require.NoError(t, err)
	literal, ok := v.(string)
	require.True(t, ok)

	var row flagged
	require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&row), literal))
	assert.Equal(t, in, row.Flags)

	// bytes as returned by some drivers
	row = flagged{}
	require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&row), []byte(literal)))
	assert.Equal(t, in, row.Flags)
}

func TestTextArrayNil(t *testing.T) {
	ctx := context.Background()
	field := parseField(t, "Flags")
	ser := TextArraySerializer{}

	v, err := ser.Value(ctx, field, reflect.Value{}, []string(nil))
	require.NoError(t, err)
	assert.Nil(t, v)

	row := flagged{Flags: []string{"x"}}
	require.NoError(t, ser.Scan(ctx, field, reflect.ValueOf(&row), nil))
	assert.Equal(t, []string{"x"}, row.Flags)
}

func TestTextArrayRejectsOtherTypes(t *testing.T) {
	field := parseField(t, "Name")
	_, err := TextArraySerializer{}.Value(context.Background(), field, reflect.Value{}, "x")
	assert.Error(t, err)
}
