package typeadapt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xloem/vartex/internal/model"
)

func TestToLong(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want int64
	}{
		{"nil", "", 0},
		{"empty string", `""`, 0},
		{"numeric string", `"12345"`, 12345},
		{"unparseable string", `"not-a-number"`, 0},
		{"direct int", `42`, 42},
		{"float", `42.9`, 42},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, ToLong(json.RawMessage(c.raw)))
		})
	}
}

func TestTagSetDedup(t *testing.T) {
	tags := []model.Tag{
		{Name: "Content-Type", Value: "text/plain"},
		{Name: "Content-Type", Value: "text/plain"},
		{Name: "App-Name", Value: "vartex"},
	}
	got := TagSet(tags)
	assert.Len(t, got, 2)
	assert.Contains(t, got, NameValue{Name: "Content-Type", Value: "text/plain"})
	assert.Contains(t, got, NameValue{Name: "App-Name", Value: "vartex"})
}

func TestTagSetEmpty(t *testing.T) {
	got := TagSet(nil)
	assert.NotNil(t, got)
	assert.Len(t, got, 0)
}

func TestTimeUUIDRoundTrip(t *testing.T) {
	const unixSeconds = int64(1600000000)
	id := TimeUUID(unixSeconds)
	got, ok := TimeFromUUID(id)
	assert.True(t, ok)
	assert.Equal(t, unixSeconds, got)
}

func TestTimeFromUUIDRejectsWrongLength(t *testing.T) {
	_, ok := TimeFromUUID([]byte{1, 2, 3})
	assert.False(t, ok)
}
