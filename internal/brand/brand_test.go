package brand

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFamily() *Family {
	return &Family{
		DefaultBrand: "BUD",
		Website:      "example.com",
		Beverages: []Beverage{
			{ProductCode: "BUD", CodeProd: "a0B1", CodeStage: "a0B1s"},
			{ProductCode: "NAT", CodeProd: "a0B2", CodeStage: "a0B2s"},
		},
	}
}

func TestBackendCode(t *testing.T) {
	f := testFamily()
	assert.Equal(t, "a0B1", f.BackendCode("BUD", true))
	assert.Equal(t, "a0B1s", f.BackendCode("BUD", false))
	assert.Equal(t, "a0B2", f.BackendCode("NAT", true))
}

func TestBackendCode_Unknown(t *testing.T) {
	f := testFamily()
	assert.Empty(t, f.BackendCode("XXX", true))
}

func TestDefault(t *testing.T) {
	assert.Equal(t, "BUD", testFamily().Default())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brands.yaml")
	data := `
brand_default: BUD
site_domain_name: example.com
beverages:
  - product_code: BUD
    sfdc_code_prod: a0B1
    sfdc_code_stage: a0B1s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "BUD", f.Default())
	assert.Equal(t, "a0B1", f.BackendCode("BUD", true))
}

func TestLoad_EmptyPath(t *testing.T) {
	f, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, f.BackendCode("BUD", true))
}
