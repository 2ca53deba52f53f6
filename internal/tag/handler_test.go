package tag

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInput(t *testing.T) {
	parse := func(body string) (TagInput, int) {
		req := httptest.NewRequest(http.MethodPost, "/tags", strings.NewReader(body))
		rec := httptest.NewRecorder()
		input, ok := parseInput(rec, req)
		if !ok {
			return TagInput{}, rec.Code
		}
		return input, 0
	}

	t.Run("name and color pass through", func(t *testing.T) {
		input, code := parse(`{"name":"work","color":"#FF8800"}`)
		require.Zero(t, code)
		assert.Equal(t, "work", input.Name)
		assert.Equal(t, "#ff8800", input.Color)
	})

	t.Run("missing color gets the default", func(t *testing.T) {
		input, code := parse(`{"name":"work"}`)
		require.Zero(t, code)
		assert.Equal(t, defaultColor, input.Color)
	})

	t.Run("name is trimmed", func(t *testing.T) {
		input, code := parse(`{"name":"  work  "}`)
		require.Zero(t, code)
		assert.Equal(t, "work", input.Name)
	})

	t.Run("description is trimmed and passed through", func(t *testing.T) {
		input, code := parse(`{"name":"work","description":"  client projects  "}`)
		require.Zero(t, code)
		require.NotNil(t, input.Description)
		assert.Equal(t, "client projects", *input.Description)
	})

	t.Run("blank description becomes null", func(t *testing.T) {
		input, code := parse(`{"name":"work","description":"   "}`)
		require.Zero(t, code)
		assert.Nil(t, input.Description)
	})

	t.Run("missing description stays null", func(t *testing.T) {
		input, code := parse(`{"name":"work"}`)
		require.Zero(t, code)
		assert.Nil(t, input.Description)
	})

	t.Run("invalid input is rejected", func(t *testing.T) {
		cases := map[string]string{
			"empty name":    `{"name":"   "}`,
			"long name":     `{"name":"` + strings.Repeat("a", 51) + `"}`,
			"bad color":     `{"name":"work","color":"red"}`,
			"short hex":     `{"name":"work","color":"#fff"}`,
			"long desc":     `{"name":"work","description":"` + strings.Repeat("a", 201) + `"}`,
			"unknown field": `{"name":"work","owner":"someone"}`,
			"not json":      `not json`,
		}
		for name, body := range cases {
			_, code := parse(body)
			assert.Equal(t, http.StatusBadRequest, code, name)
		}
	})
}
