package eventbus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicForNamesOneTopicPerEventType(t *testing.T) {
	b := &Bus{topicPrefix: "vartex"}
	assert.Equal(t, "vartex-block:imported", b.topicFor(EventBlockImported))
	assert.Equal(t, "vartex-fork:detected", b.topicFor(EventForkDetected))
	assert.Equal(t, "vartex-gap:repaired", b.topicFor(EventGapRepaired))
}

func TestEventJSONOmitsEmptyOptionalFields(t *testing.T) {
	evt := Event{Type: EventBlockImported, Height: 42}
	assert.Empty(t, evt.Hash)
	assert.Empty(t, evt.Detail)

	data, err := json.Marshal(evt)
	assert.NoError(t, err)
	assert.NotContains(t, string(data), `"hash"`)
	assert.NotContains(t, string(data), `"detail"`)
}
