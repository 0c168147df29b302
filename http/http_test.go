package http

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVersion(t *testing.T) {
	testcases := []struct {
		desc     string
		input    []byte
		expected Version
		wantErr  bool
	}{
		{
			desc:     "HTTP/1.1",
			input:    []byte("HTTP/1.1"),
			expected: Version{1, 1},
		},
		{
			desc:     "HTTP/1.0",
			input:    []byte("HTTP/1.0"),
			expected: Version{1, 0},
		},
		{
			desc:    "missing prefix",
			input:   []byte("1.1"),
			wantErr: true,
		},
		{
			desc:    "missing dot",
			input:   []byte("HTTP/11"),
			wantErr: true,
		},
		{
			desc:    "non-numeric",
			input:   []byte("HTTP/1.x"),
			wantErr: true,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			ver, err := ParseVersion(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, ver)
		})
	}
}

func TestVersionText(t *testing.T) {
	assert.Equal(t, "HTTP/1.1", Version11.String())
	assert.Equal(t, []byte("HTTP/2.0"), Version{2, 0}.Text())
}

func TestParseField(t *testing.T) {
	testcases := []struct {
		desc     string
		input    []byte
		expected Field
		wantErr  bool
	}{
		{
			desc:     "simple field",
			input:    []byte("Host: example.com"),
			expected: Field{Name: []byte("Host"), Value: []byte("example.com")},
		},
		{
			desc:     "no space after colon",
			input:    []byte("Host:example.com"),
			expected: Field{Name: []byte("Host"), Value: []byte("example.com")},
		},
		{
			desc:     "surrounding OWS trimmed from value",
			input:    []byte("Host:   example.com  "),
			expected: Field{Name: []byte("Host"), Value: []byte("example.com")},
		},
		{
			desc:    "missing colon",
			input:   []byte("Host example.com"),
			wantErr: true,
		},
		{
			desc:    "whitespace before colon",
			input:   []byte("Host : example.com"),
			wantErr: true,
		},
	}
	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			field, err := ParseField(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tc.expected, field)
		})
	}
}

func TestFieldText(t *testing.T) {
	f := Field{Name: []byte("Host"), Value: []byte("example.com")}
	assert.Equal(t, []byte("Host: example.com"), f.Text())
}

func TestIsValidToken(t *testing.T) {
	assert.True(t, isValidToken("GET"))
	assert.True(t, isValidToken("X-Custom!#$"))
	assert.False(t, isValidToken(""))
	assert.False(t, isValidToken("with space"))
	assert.False(t, isValidToken("semi;colon"))
}
