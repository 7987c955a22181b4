package maskio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		xml     string
		want    []int64
		wantErr string
	}{
		{
			name: "ids and ranges",
			xml: `<?xml version="1.0"?>
<detector-masking>
    <group>
        <detids>5-8,12,20-22</detids>
    </group>
</detector-masking>`,
			want: []int64{5, 6, 7, 8, 12, 20, 21, 22},
		},
		{
			name: "multiple groups and whitespace",
			xml: `<detector-masking>
  <group><detids> 1 , 3 </detids></group>
  <group><detids>7- 9</detids></group>
</detector-masking>`,
			want: []int64{1, 3, 7, 8, 9},
		},
		{
			name: "trailing comma",
			xml:  `<detector-masking><group><detids>4,5,</detids></group></detector-masking>`,
			want: []int64{4, 5},
		},
		{
			name: "empty document",
			xml:  `<detector-masking></detector-masking>`,
			want: nil,
		},
		{
			name:    "inverted range",
			xml:     `<detector-masking><group><detids>9-7</detids></group></detector-masking>`,
			wantErr: "end before start",
		},
		{
			name:    "garbage id",
			xml:     `<detector-masking><group><detids>abc</detids></group></detector-masking>`,
			wantErr: "bad detector ID",
		},
		{
			name:    "not xml",
			xml:     `{]`,
			wantErr: "parsing detector-masking XML",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.xml))
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mask.xml")
	data := `<?xml version="1.0"?>
<detector-masking>
    <group>
        <detids>1400203-1400205,1401199</detids>
    </group>
</detector-masking>`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int64{1400203, 1400204, 1400205, 1401199}, got)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.xml"))
	assert.ErrorContains(t, err, "reading mask file")
}
