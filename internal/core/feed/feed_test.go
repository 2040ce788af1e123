package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventType_Accepts(t *testing.T) {
	tests := []struct {
		name string
		kind EventType
		want []EventType
	}{
		{"all", "", []EventType{EventAdded, EventChanged, EventRemoved}},
		{"added", EventAdded, []EventType{EventAdded}},
		{"changed", EventChanged, []EventType{EventChanged, EventRemoved}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []EventType
			for _, typ := range []EventType{EventAdded, EventChanged, EventRemoved} {
				if tt.kind.Accepts(typ) {
					got = append(got, typ)
				}
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
