// internal/similarity/similarity_test.go
package similarity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByName(t *testing.T) {
	for _, name := range []string{"markup", "text", "json"} {
		m, err := ByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.Name())
	}

	_, err := ByName("bsdiff")
	require.ErrorIs(t, err, ErrUnknownMetric)
	assert.Contains(t, err.Error(), `"bsdiff"`)
}

// -- Shared Contract --

func TestMetrics_Bounds(t *testing.T) {
	pairs := [][2]string{
		{"", ""},
		{"A", ""},
		{"", "A"},
		{"A", "A"},
		{"<html><body><p>x</p></body></html>", "<html><body><div>y</div></body></html>"},
		{`{"a":1}`, `{"a":2}`},
		{"completely", "different text entirely"},
	}

	for _, name := range []string{"markup", "text", "json"} {
		m, err := ByName(name)
		require.NoError(t, err)

		t.Run(name, func(t *testing.T) {
			assert.Zero(t, m.Distance(nil, nil), "both empty")
			assert.Equal(t, 1.0, m.Distance([]byte("A"), nil), "one empty")
			assert.Equal(t, 1.0, m.Distance(nil, []byte("A")), "one empty")
			assert.Zero(t, m.Distance([]byte("A"), []byte("A")), "identical")

			for _, p := range pairs {
				d := m.Distance([]byte(p[0]), []byte(p[1]))
				assert.GreaterOrEqual(t, d, 0.0)
				assert.LessOrEqual(t, d, 1.0)
			}
		})
	}
}

// -- Text --

func TestText_Distance(t *testing.T) {
	m := NewText()
	assert.InDelta(t, 0.25, m.Distance([]byte("abcd"), []byte("abcx")), 1e-9)
	assert.InDelta(t, 0.5, m.Distance([]byte("abcd"), []byte("ab")), 1e-9)
	assert.InDelta(t, 1.0, m.Distance([]byte("aaaa"), []byte("bbbb")), 1e-9)
}

// -- Markup --

func TestMarkup_IgnoresText(t *testing.T) {
	m := NewMarkup()
	a := []byte(`<html><head><title>Plain</title></head><body><p class="a">hello</p></body></html>`)
	b := []byte(`<html><head><title>Secure</title></head><body><p class="b">goodbye, world</p></body></html>`)
	assert.Zero(t, m.Distance(a, b), "only the tag structure is compared")
}

func TestMarkup_StructureChange(t *testing.T) {
	m := NewMarkup()
	a := []byte(`<html><body><p>x</p></body></html>`)
	b := []byte(`<html><body><div>x</div></body></html>`)

	// Tag sequences: html body p /p /body /html vs html body div /div /body /html.
	assert.InDelta(t, 2.0/6.0, m.Distance(a, b), 1e-9)

	errorPage := []byte(`<html><body><h1>502 Bad Gateway</h1><hr><center>nginx</center></body></html>`)
	assert.Greater(t, m.Distance(a, errorPage), 0.1)
}

func TestMarkup_CaseInsensitiveTags(t *testing.T) {
	m := NewMarkup()
	assert.Zero(t, m.Distance([]byte(`<HTML><BODY></BODY></HTML>`), []byte(`<html><body></body></html>`)))
}

func TestMarkup_NoTagsFallsBackToText(t *testing.T) {
	m := NewMarkup()
	assert.InDelta(t, 0.25, m.Distance([]byte("abcd"), []byte("abcx")), 1e-9)
}

func TestMarkup_LargeDocument(t *testing.T) {
	m := NewMarkup()
	doc := "<html><body>" + strings.Repeat("<div><span>x</span></div>", 5000) + "</body></html>"
	assert.Zero(t, m.Distance([]byte(doc), []byte(doc+" ")))
}

// -- JSON --

func TestJSON_Distance(t *testing.T) {
	m := NewJSON()

	testCases := []struct {
		name string
		a, b string
		zero bool
	}{
		{"key order", `{"a":1,"b":[1,2]}`, `{"b":[1,2],"a":1}`, true},
		{"array order", `{"items":[3,1,2]}`, `{"items":[1,2,3]}`, true},
		{"session token", `{"user":"bob","session_id":"abc"}`, `{"user":"bob","session_id":"xyz"}`, true},
		{"uuid value", `{"id":"f47ac10b-58cc-4372-a567-0e02b2c3d479"}`, `{"id":"9b2d1c3e-1111-4222-8333-444455556666"}`, true},
		{"timestamp value", `{"now":1700000000}`, `{"now":1700000099}`, true},
		{"real difference", `{"user":"bob"}`, `{"user":"alice"}`, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := m.Distance([]byte(tc.a), []byte(tc.b))
			if tc.zero {
				assert.Zero(t, d)
			} else {
				assert.Greater(t, d, 0.0)
				assert.LessOrEqual(t, d, 1.0)
			}
		})
	}
}

func TestJSON_NonJSONFallsBackToText(t *testing.T) {
	m := NewJSON()
	assert.InDelta(t, NewText().Distance([]byte("<p>a</p>"), []byte("<p>b</p>")),
		m.Distance([]byte("<p>a</p>"), []byte("<p>b</p>")), 1e-9)
}

func TestJSON_Normalize(t *testing.T) {
	m := NewJSON()
	got := m.Normalize(map[string]interface{}{
		"user":       "bob",
		"csrf_token": "c1",
		"nonce":      "n1",
		"nested":     map[string]interface{}{"id": "f47ac10b-58cc-4372-a567-0e02b2c3d479"},
	})
	assert.Equal(t, map[string]interface{}{
		"user":                "bob",
		PlaceholderDynamicKey: []interface{}{PlaceholderDynamicValue, PlaceholderDynamicValue},
		"nested":              map[string]interface{}{"id": PlaceholderDynamicValue},
	}, got)
}

func TestShannonEntropy(t *testing.T) {
	assert.Zero(t, shannonEntropy(""))
	assert.Zero(t, shannonEntropy("aaaa"))
	assert.InDelta(t, 1.0, shannonEntropy("abab"), 1e-9)
	assert.InDelta(t, 2.0, shannonEntropy("abcd"), 1e-9)
}
