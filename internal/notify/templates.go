package notify

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	brlPrinter = message.NewPrinter(language.BrazilianPortuguese)
	templates  = template.Must(template.New("messages").Funcs(template.FuncMap{
		"brl": FormatBRL,
	}).ParseFS(templateFS, "templates/*.tmpl"))
)

// FormatBRL renders an amount in whole reais with pt-BR grouping, e.g. "R$ 450.000".
func FormatBRL(amount decimal.Decimal) string {
	return brlPrinter.Sprintf("R$ %d", amount.Round(0).IntPart())
}

// PropertyMatchMessage feeds the property match template.
type PropertyMatchMessage struct {
	LeadName    string
	Title       string
	Price       decimal.Decimal
	City        string
	State       string
	Category    string
	Bedrooms    int
	Bathrooms   int
	Reasons     []string
	PropertyURL string
	OptOutURL   string
	Agency      string
}

// PriceReductionMessage feeds the price reduction template.
type PriceReductionMessage struct {
	Name        string
	Title       string
	OldPrice    decimal.Decimal
	NewPrice    decimal.Decimal
	Savings     decimal.Decimal
	PropertyURL string
}

// LeadAlertMessage feeds the admin new-lead template.
type LeadAlertMessage struct {
	LeadID        string
	LeadName      string
	Phone         string
	Email         string
	Message       string
	PropertyTitle string
	PropertyPrice decimal.NullDecimal
	ReceivedAt    string
}

// RenderPropertyMatch renders the message sent to a matched lead.
func RenderPropertyMatch(data PropertyMatchMessage) (string, error) {
	return render("property_match.tmpl", data)
}

// RenderPriceReduction renders the message sent to a price alert subscriber.
func RenderPriceReduction(data PriceReductionMessage) (string, error) {
	return render("price_reduction.tmpl", data)
}

// RenderLeadAlert renders the message sent to the agency about a new lead.
func RenderLeadAlert(data LeadAlertMessage) (string, error) {
	return render("lead_alert.tmpl", data)
}

func render(name string, data any) (string, error) {
	var buffer bytes.Buffer
	if err := templates.ExecuteTemplate(&buffer, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buffer.String(), nil
}
