// Package brand maps product codes to the backend's brand record codes.
//
// Each brand family carries a list of beverages; every beverage has a
// three-letter product code plus separate backend codes for the staging and
// production orgs.
package brand

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Beverage is one product within a brand family.
type Beverage struct {
	ProductCode string `yaml:"product_code"`
	CodeProd    string `yaml:"sfdc_code_prod"`
	CodeStage   string `yaml:"sfdc_code_stage"`
}

// Family describes a brand family and its beverages.
type Family struct {
	DefaultBrand string     `yaml:"brand_default"`
	Website      string     `yaml:"site_domain_name"`
	Beverages    []Beverage `yaml:"beverages"`
}

// BackendCode returns the backend brand code for a product code, selecting
// the production or staging variant. Returns "" when the product code is
// unknown.
func (f *Family) BackendCode(productCode string, production bool) string {
	for _, b := range f.Beverages {
		if b.ProductCode == productCode {
			if production {
				return b.CodeProd
			}
			return b.CodeStage
		}
	}
	return ""
}

// Default returns the family's default product code.
func (f *Family) Default() string { return f.DefaultBrand }

// Load reads a brand family from a YAML file. An empty path yields an empty
// family (lookups return "").
func Load(path string) (*Family, error) {
	if path == "" {
		return &Family{}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading brand catalog: %w", err)
	}
	var f Family
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing brand catalog: %w", err)
	}
	return &f, nil
}
