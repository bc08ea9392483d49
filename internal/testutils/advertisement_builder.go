package testutils

import (
	"encoding/binary"

	"github.com/srg/blesink/internal/device"
)

// FakeAdvertisement is a plain device.Advertisement value for tests.
type FakeAdvertisement struct {
	Name      string
	Address   string
	Rssi      int
	ManufData []byte
}

func (a *FakeAdvertisement) LocalName() string        { return a.Name }
func (a *FakeAdvertisement) ManufacturerData() []byte { return a.ManufData }
func (a *FakeAdvertisement) RSSI() int                { return a.Rssi }
func (a *FakeAdvertisement) Addr() string             { return a.Address }

// AdvertisementBuilder builds fake advertisements with a fluent API.
type AdvertisementBuilder struct {
	adv FakeAdvertisement
}

// NewAdvertisementBuilder creates a builder with a typical sensor RSSI.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{adv: FakeAdvertisement{Rssi: -60}}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.adv.Name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.adv.Address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.adv.Rssi = rssi
	return b
}

// WithManufacturerData sets the raw manufacturer data, company id included.
func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.adv.ManufData = data
	return b
}

// WithVendorPayload prefixes payload with companyID in little-endian order.
func (b *AdvertisementBuilder) WithVendorPayload(companyID uint16, payload []byte) *AdvertisementBuilder {
	data := make([]byte, 2, 2+len(payload))
	binary.LittleEndian.PutUint16(data, companyID)
	b.adv.ManufData = append(data, payload...)
	return b
}

// WithRuuviPayload attaches a RAWv2 frame produced by p.
func (b *AdvertisementBuilder) WithRuuviPayload(p *RuuviPayloadBuilder) *AdvertisementBuilder {
	return b.WithVendorPayload(device.CompanyRuuvi, p.Build())
}

func (b *AdvertisementBuilder) Build() device.Advertisement {
	adv := b.adv
	return &adv
}
