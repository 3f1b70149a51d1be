package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeShopsFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "shops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestUnitLoadShops(t *testing.T) {
	t.Parallel()

	path := writeShopsFile(t, `
shops:
  - slug: naver
    kind: api
    base_url: https://api.naver.example/deals
    client_id: cid
    client_secret: secret
    page_size: 100
    requests_per_second: 2
    category_labels:
      "디지털/가전": electronics
  - slug: ppomppu
    kind: scrape
    base_url: https://ppomppu.example/board
    max_pages: 5
`)

	shops, err := LoadShops(path)
	require.NoError(t, err)
	require.Len(t, shops, 2)

	assert.Equal(t, "naver", shops[0].Slug)
	assert.Equal(t, KindAPI, shops[0].Kind)
	assert.Equal(t, "cid", shops[0].ClientID)
	assert.Equal(t, 100, shops[0].PageSize)
	assert.Equal(t, 2.0, shops[0].RequestsPerSecond)
	assert.Equal(t, map[string]string{"디지털/가전": "electronics"}, shops[0].CategoryLabels)

	assert.Equal(t, "ppomppu", shops[1].Slug)
	assert.Equal(t, KindScrape, shops[1].Kind)
	assert.Equal(t, 5, shops[1].MaxPages)
}

func TestUnitLoadShopsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "empty file",
			content: "shops: []\n",
			wantErr: "defines no shops",
		},
		{
			name: "missing slug",
			content: `
shops:
  - kind: api
    base_url: https://x.example
`,
			wantErr: "without a slug",
		},
		{
			name: "duplicated slug",
			content: `
shops:
  - slug: naver
    kind: api
    base_url: https://x.example
  - slug: naver
    kind: scrape
    base_url: https://y.example
`,
			wantErr: `duplicated shop slug "naver"`,
		},
		{
			name: "missing base url",
			content: `
shops:
  - slug: naver
    kind: api
`,
			wantErr: "no base_url",
		},
		{
			name: "unknown kind",
			content: `
shops:
  - slug: naver
    kind: ftp
    base_url: https://x.example
`,
			wantErr: `unknown kind "ftp"`,
		},
		{
			name:    "not yaml",
			content: "{shops: [",
			wantErr: "can't parse shops file",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := writeShopsFile(t, tt.content)

			_, err := LoadShops(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestUnitLoadShopsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadShops(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't read shops file")
}
