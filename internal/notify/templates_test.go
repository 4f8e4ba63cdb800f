package notify

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatBRLGroupsThousands(t *testing.T) {
	assert.Equal(t, "R$ 450.000", FormatBRL(decimal.NewFromInt(450000)))
	assert.Equal(t, "R$ 1.250.000", FormatBRL(decimal.RequireFromString("1249999.50")))
	assert.Equal(t, "R$ 900", FormatBRL(decimal.NewFromInt(900)))
}

func TestRenderPriceReduction(t *testing.T) {
	text, err := RenderPriceReduction(PriceReductionMessage{
		Name:        "Maria",
		Title:       "Casa no Lago Sul",
		OldPrice:    decimal.NewFromInt(500000),
		NewPrice:    decimal.NewFromInt(450000),
		Savings:     decimal.NewFromInt(50000),
		PropertyURL: "https://dcruzimoveis.com.br/imoveis/casa-lago-sul",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "Olá Maria!")
	assert.Contains(t, text, "~R$ 500.000~")
	assert.Contains(t, text, "*Novo preço: R$ 450.000*")
	assert.Contains(t, text, "*Economia: R$ 50.000*")
	assert.True(t, strings.HasSuffix(text, "https://dcruzimoveis.com.br/imoveis/casa-lago-sul\n") ||
		strings.HasSuffix(text, "https://dcruzimoveis.com.br/imoveis/casa-lago-sul"))
}

func TestRenderPropertyMatchOmitsEmptyCounts(t *testing.T) {
	text, err := RenderPropertyMatch(PropertyMatchMessage{
		LeadName:    "João",
		Title:       "Lote em Vicente Pires",
		Price:       decimal.NewFromInt(320000),
		City:        "Brasília",
		State:       "DF",
		Category:    "lote",
		Reasons:     []string{"Dentro da sua faixa de preço", "Cidade: Brasília"},
		PropertyURL: "https://example.com/p/1",
		OptOutURL:   "https://example.com/opt-out/lead-1",
		Agency:      "D Cruz Imóveis DF",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "Olá *João*!")
	assert.Contains(t, text, "*Preço:* R$ 320.000")
	assert.Contains(t, text, "*Local:* Brasília, DF")
	assert.NotContains(t, text, "Quartos")
	assert.NotContains(t, text, "Banheiros")
	assert.Contains(t, text, "✅ Dentro da sua faixa de preço")
	assert.Contains(t, text, "✅ Cidade: Brasília")
	assert.Contains(t, text, "https://example.com/opt-out/lead-1")
	assert.Contains(t, text, "D Cruz Imóveis DF")
}

func TestRenderPropertyMatchListsCounts(t *testing.T) {
	text, err := RenderPropertyMatch(PropertyMatchMessage{
		LeadName:  "Ana",
		Title:     "Apartamento",
		Price:     decimal.NewFromInt(600000),
		Bedrooms:  3,
		Bathrooms: 2,
	})
	require.NoError(t, err)

	assert.Contains(t, text, "*Quartos:* 3")
	assert.Contains(t, text, "*Banheiros:* 2")
	assert.NotContains(t, text, "Por que este imóvel")
}

func TestRenderLeadAlertFallbacks(t *testing.T) {
	text, err := RenderLeadAlert(LeadAlertMessage{
		LeadID:     "lead-1",
		LeadName:   "Carlos",
		Phone:      "5561999998888",
		ReceivedAt: "19/10/2026 10:30",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "👤 Cliente: Carlos")
	assert.Contains(t, text, "📱 WhatsApp: 5561999998888")
	assert.Contains(t, text, "📧 Email: Não informado")
	assert.Contains(t, text, "🏠 Imóvel: Não informado")
	assert.Contains(t, text, "💰 Valor: Não informado")
	assert.Contains(t, text, `"Sem mensagem"`)
	assert.Contains(t, text, "🆔 Lead ID: lead-1")

	withProperty, err := RenderLeadAlert(LeadAlertMessage{
		LeadName:      "Carlos",
		PropertyTitle: "Casa",
		PropertyPrice: decimal.NewNullDecimal(decimal.NewFromInt(750000)),
	})
	require.NoError(t, err)
	assert.Contains(t, withProperty, "💰 Valor: R$ 750.000")
}
