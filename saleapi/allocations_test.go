package saleapi

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/sunrisedotdev/sonar-sub000/core"
)

var (
	allocEntity1 = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	allocEntity2 = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	allocWalletA = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	allocWalletB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	allocTokenX  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

const validCSV = `ENTITY_ID, WALLET, TOKEN, ACCEPTED_AMOUNT
00000000-0000-0000-0000-000000000001, 0x00000000000000000000000000000000000000b1, 0x00000000000000000000000000000000000000a1, 600
00000000-0000-0000-0000-000000000002, 0x00000000000000000000000000000000000000b2, 0x00000000000000000000000000000000000000a1, 250.5
`

func TestParseAllocationCSV(t *testing.T) {
	entries, err := ParseAllocationCSV(strings.NewReader(validCSV))
	assert.Nil(t, err)
	assert.Equal(t, 2, len(entries))

	check.Equal(t, allocEntity1, entries[0].EntityID)
	check.Equal(t, allocWalletA, entries[0].Wallet)
	check.Equal(t, allocTokenX, entries[0].Token)
	check.True(t, dec("600").Equal(entries[0].Accepted))
	check.True(t, dec("250.5").Equal(entries[1].Accepted))
}

func TestParseAllocationCSV_Rejects(t *testing.T) {
	cases := []struct {
		name string
		csv  string
	}{
		{"wrong header", "ID, WALLET, TOKEN, AMOUNT\n"},
		{"missing column", "ENTITY_ID, WALLET, TOKEN\n"},
		{"bad uuid", "ENTITY_ID, WALLET, TOKEN, ACCEPTED_AMOUNT\nnot-a-uuid, 0x00000000000000000000000000000000000000b1, 0x00000000000000000000000000000000000000a1, 600\n"},
		{"bad wallet", "ENTITY_ID, WALLET, TOKEN, ACCEPTED_AMOUNT\n00000000-0000-0000-0000-000000000001, nope, 0x00000000000000000000000000000000000000a1, 600\n"},
		{"bad amount", "ENTITY_ID, WALLET, TOKEN, ACCEPTED_AMOUNT\n00000000-0000-0000-0000-000000000001, 0x00000000000000000000000000000000000000b1, 0x00000000000000000000000000000000000000a1, abc\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAllocationCSV(strings.NewReader(tc.csv))
			check.Error(t, err)
		})
	}
}

func TestParseAllocationCSV_HeaderCaseInsensitive(t *testing.T) {
	csv := "entity_id, wallet, token, accepted_amount\n" +
		"00000000-0000-0000-0000-000000000001, 0x00000000000000000000000000000000000000b1, 0x00000000000000000000000000000000000000a1, 1\n"
	entries, err := ParseAllocationCSV(strings.NewReader(csv))
	assert.Nil(t, err)
	check.Equal(t, 1, len(entries))
}

func allocExport() *core.Export {
	return &core.Export{
		Entities: []core.EntityView{
			{ID: allocEntity1, Wallets: []common.Address{allocWalletA}},
			{ID: allocEntity2, Wallets: []common.Address{allocWalletB}, Refunded: true},
		},
		Wallets: []core.WalletView{
			{
				Address:  allocWalletA,
				EntityID: allocEntity1,
				Committed: []core.TokenAmount{
					{Token: allocTokenX, Amount: dec("1000")},
				},
			},
			{
				Address:  allocWalletB,
				EntityID: allocEntity2,
				Committed: []core.TokenAmount{
					{Token: allocTokenX, Amount: dec("500")},
				},
			},
		},
	}
}

func TestPrevalidateAllocations(t *testing.T) {
	exp := allocExport()

	ok := []core.AllocationEntry{
		{EntityID: allocEntity1, Wallet: allocWalletA, Token: allocTokenX, Accepted: dec("600")},
	}
	check.Nil(t, PrevalidateAllocations(ok, exp))

	cases := []struct {
		name    string
		entries []core.AllocationEntry
	}{
		{"zero amount", []core.AllocationEntry{
			{EntityID: allocEntity1, Wallet: allocWalletA, Token: allocTokenX, Accepted: dec("0")},
		}},
		{"duplicate tuple", []core.AllocationEntry{
			{EntityID: allocEntity1, Wallet: allocWalletA, Token: allocTokenX, Accepted: dec("100")},
			{EntityID: allocEntity1, Wallet: allocWalletA, Token: allocTokenX, Accepted: dec("200")},
		}},
		{"unknown entity", []core.AllocationEntry{
			{EntityID: uuid.MustParse("00000000-0000-0000-0000-0000000000ff"), Wallet: allocWalletA, Token: allocTokenX, Accepted: dec("1")},
		}},
		{"refunded entity", []core.AllocationEntry{
			{EntityID: allocEntity2, Wallet: allocWalletB, Token: allocTokenX, Accepted: dec("1")},
		}},
		{"wallet of another entity", []core.AllocationEntry{
			{EntityID: allocEntity1, Wallet: allocWalletB, Token: allocTokenX, Accepted: dec("1")},
		}},
		{"exceeds commitment", []core.AllocationEntry{
			{EntityID: allocEntity1, Wallet: allocWalletA, Token: allocTokenX, Accepted: dec("1001")},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			check.Error(t, PrevalidateAllocations(tc.entries, exp))
		})
	}
}
