package mapping

import "github.com/ternarybob/sheetporter/internal/models"

// Locators that apply to the customer forms
var customerLocators = map[string][]string{
	"name":    {`input[name="customer_name"]`, `input[name="name"]`},
	"email":   {`input[name="customer_email"]`, `input[name="email"]`, `input[type="email"]`},
	"phone":   {`input[name="customer_phone"]`, `input[name="phone"]`, `input[type="tel"]`},
	"address": {`textarea[name="customer_address"]`, `input[name="address"]`},
	"company": {`input[name="customer_company"]`, `input[name="company"]`},
}

// DefaultSubmitLocators are tried in order when a rule does not name its own
var DefaultSubmitLocators = []string{`button[type="submit"]`, `input[type="submit"]`}

// DefaultSuccessMarkers are checked after submit when a rule does not name its own.
// A "text=" marker matches page text case-insensitively; anything else is a CSS selector.
var DefaultSuccessMarkers = []string{
	".success-message",
	".alert-success",
	`[data-status="success"]`,
	"text=Successfully",
	"text=created",
	"text=added",
}

// GenericLocators returns the name-based locators used for fields without a specific entry
func GenericLocators(field string) []string {
	return []string{
		`input[name="` + field + `"]`,
		`textarea[name="` + field + `"]`,
		`select[name="` + field + `"]`,
	}
}

// DefaultRules returns the built-in mappings
func DefaultRules() []*models.MappingRule {
	rules := []*models.MappingRule{
		{
			ID:             "Customers.Basic",
			Name:           "Customers (basic)",
			Description:    "Name, email and phone with optional company and notes",
			RequiredFields: []string{"name", "email", "phone"},
			OptionalFields: []string{"company", "notes"},
			FormPath:       "/customers/add",
		},
		{
			ID:             "Customers.Full",
			Name:           "Customers (full)",
			Description:    "Full customer record including address and company",
			RequiredFields: []string{"name", "email", "phone", "address", "company"},
			OptionalFields: []string{"website", "notes", "tags"},
			FormPath:       "/customers/add-full",
		},
		{
			ID:             "Products.Basic",
			Name:           "Products (basic)",
			Description:    "Product name, price and category",
			RequiredFields: []string{"name", "price", "category"},
			OptionalFields: []string{"description", "sku", "weight"},
			FormPath:       "/products/add",
		},
		{
			ID:             "Orders.Basic",
			Name:           "Orders (basic)",
			Description:    "Order number, customer email and total",
			RequiredFields: []string{"order_number", "customer_email", "total"},
			OptionalFields: []string{"order_date", "status", "notes"},
			FormPath:       "/orders/create",
		},
	}

	for _, r := range rules {
		r.Locators = make(map[string][]string)
		for _, field := range append(append([]string{}, r.RequiredFields...), r.OptionalFields...) {
			if locs, ok := customerLocators[field]; ok && r.Category() == "Customers" {
				r.Locators[field] = append([]string{}, locs...)
			} else {
				r.Locators[field] = GenericLocators(field)
			}
		}
	}
	return rules
}
