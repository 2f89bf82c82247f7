package app

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"freight-procurement/internal/accessorial"
	"freight-procurement/internal/procurement"
	"freight-procurement/internal/ratecard"
)

// ImportFile is the YAML layout accepted by Import.
type ImportFile struct {
	Slabs        []SlabRecord        `mapstructure:"slabs"`
	Accessorials []AccessorialRecord `mapstructure:"accessorials"`
	Lanes        []LaneRecord        `mapstructure:"lanes"`
	Carriers     []CarrierRecord     `mapstructure:"carriers"`
	Bids         []BidRecord         `mapstructure:"bids"`
}

// LocationRecord is an address with optional coordinates.
type LocationRecord struct {
	City    string   `mapstructure:"city"`
	State   string   `mapstructure:"state"`
	Zip     string   `mapstructure:"zip"`
	Country string   `mapstructure:"country"`
	Lat     *float64 `mapstructure:"lat"`
	Lng     *float64 `mapstructure:"lng"`
}

// LaneRecord describes a lane.
type LaneRecord struct {
	ID            string           `mapstructure:"id"`
	Name          string           `mapstructure:"name"`
	Origin        LocationRecord   `mapstructure:"origin"`
	Destination   LocationRecord   `mapstructure:"destination"`
	LaneType      string           `mapstructure:"lane_type" validate:"omitempty,oneof=truckload ltl intermodal specialized bulk"`
	DistanceMiles *decimal.Decimal `mapstructure:"distance_miles"`
	Volume        *decimal.Decimal `mapstructure:"volume"`
	VolumeUnit    string           `mapstructure:"volume_unit"`
	Equipment     []string         `mapstructure:"equipment"`
	Status        string           `mapstructure:"status" validate:"omitempty,oneof=draft published open closed awarded inactive"`
}

// CarrierRecord describes a carrier.
type CarrierRecord struct {
	ID                   string          `mapstructure:"id"`
	Name                 string          `mapstructure:"name" validate:"required"`
	CarrierType          string          `mapstructure:"carrier_type" validate:"omitempty,oneof=truckload ltl intermodal specialized bulk"`
	ServiceLevel         string          `mapstructure:"service_level" validate:"omitempty,oneof=standard express premium economy"`
	Rating               decimal.Decimal `mapstructure:"rating"`
	OperatingRadiusMiles decimal.Decimal `mapstructure:"operating_radius_miles"`
	Base                 LocationRecord  `mapstructure:"base"`
	Status               string          `mapstructure:"status" validate:"omitempty,oneof=pending_approval active suspended inactive"`
}

// BidRecord describes a draft bid.
type BidRecord struct {
	ID                 string           `mapstructure:"id"`
	Name               string           `mapstructure:"name" validate:"required"`
	Description        string           `mapstructure:"description"`
	LaneIDs            []string         `mapstructure:"lanes"`
	SubmissionDeadline time.Time        `mapstructure:"submission_deadline" validate:"required"`
	Budget             *decimal.Decimal `mapstructure:"budget"`
	Currency           string           `mapstructure:"currency" validate:"omitempty,len=3"`
	EquipmentTypes     []string         `mapstructure:"equipment_types"`
	HazmatRequired     bool             `mapstructure:"hazmat_required"`
	TemperatureControl bool             `mapstructure:"temperature_controlled"`
	MinCarrierRating   *decimal.Decimal `mapstructure:"min_carrier_rating"`
	ServiceLevel       string           `mapstructure:"service_level" validate:"omitempty,oneof=standard express premium economy"`
	CreatedBy          string           `mapstructure:"created_by"`
}

// SlabRecord describes a rate slab.
type SlabRecord struct {
	EffectiveDate      time.Time        `mapstructure:"effective_date"`
	PriceMin           decimal.Decimal  `mapstructure:"price_min"`
	PriceMax           decimal.Decimal  `mapstructure:"price_max"`
	SurchargePercent   *decimal.Decimal `mapstructure:"surcharge_percent"`
	BasePrice          decimal.Decimal  `mapstructure:"base_price"`
	ChangePerUnit      *decimal.Decimal `mapstructure:"change_per_unit"`
	Currency           string           `mapstructure:"currency"`
	Region             string           `mapstructure:"region"`
	MinSurchargeAmount *decimal.Decimal `mapstructure:"min_surcharge_amount"`
	MaxSurchargeAmount *decimal.Decimal `mapstructure:"max_surcharge_amount"`
	Notes              string           `mapstructure:"notes"`
}

// AccessorialRecord describes an accessorial definition.
type AccessorialRecord struct {
	Code            string          `mapstructure:"code"`
	Name            string          `mapstructure:"name"`
	AppliesTo       string          `mapstructure:"applies_to"`
	RateType        string          `mapstructure:"rate_type"`
	RateValue       decimal.Decimal `mapstructure:"rate_value"`
	Unit            string          `mapstructure:"unit"`
	Taxable         bool            `mapstructure:"taxable"`
	IncludedInBase  bool            `mapstructure:"included_in_base"`
	EquipmentTypes  []string        `mapstructure:"equipment_types"`
	CarrierEditable bool            `mapstructure:"carrier_editable"`
	Active          *bool           `mapstructure:"active"`
	EffectiveFrom   time.Time       `mapstructure:"effective_from"`
	EffectiveTo     *time.Time      `mapstructure:"effective_to"`
	Remarks         string          `mapstructure:"remarks"`
}

// ImportResult counts the records written.
type ImportResult struct {
	Slabs        int
	Accessorials int
	Lanes        int
	Carriers     int
	Bids         int
}

// LoadImportFile decodes a YAML (or JSON/TOML) reference data file.
func LoadImportFile(path string) (ImportFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return ImportFile{}, fmt.Errorf("read import file: %w", err)
	}

	var file ImportFile
	if err := v.Unmarshal(&file, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook(),
		timeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return ImportFile{}, fmt.Errorf("decode import file: %w", err)
	}
	return file, nil
}

// Import validates every record first and then writes slabs, accessorials,
// lanes, carriers and draft bids in that order.
func (a *App) Import(ctx context.Context, file ImportFile) (ImportResult, error) {
	var result ImportResult

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return result, err
	}
	defer closeStore()

	slabs, err := a.importSlabs(ctx, store, file.Slabs)
	if err != nil {
		return result, err
	}
	defs, err := a.importAccessorials(ctx, store, file.Accessorials)
	if err != nil {
		return result, err
	}

	now := a.now()
	lanes := make([]procurement.Lane, 0, len(file.Lanes))
	for i, rec := range file.Lanes {
		if err := validate.Struct(rec); err != nil {
			return result, fmt.Errorf("%w: lane %d: %v", ErrInvalidInput, i+1, err)
		}
		lanes = append(lanes, rec.lane(now))
	}
	carriers := make([]procurement.Carrier, 0, len(file.Carriers))
	for i, rec := range file.Carriers {
		if err := validate.Struct(rec); err != nil {
			return result, fmt.Errorf("%w: carrier %d: %v", ErrInvalidInput, i+1, err)
		}
		carriers = append(carriers, rec.carrier(now))
	}
	bids := make([]procurement.Bid, 0, len(file.Bids))
	for i, rec := range file.Bids {
		if err := validate.Struct(rec); err != nil {
			return result, fmt.Errorf("%w: bid %d: %v", ErrInvalidInput, i+1, err)
		}
		bids = append(bids, rec.bid(now, a.Config.Pricing.DefaultCurrency))
	}

	for _, slab := range slabs {
		if _, err := store.InsertSlab(ctx, slab); err != nil {
			return result, err
		}
		result.Slabs++
	}
	for _, def := range defs {
		if err := store.InsertAccessorial(ctx, def); err != nil {
			return result, err
		}
		result.Accessorials++
	}
	for _, lane := range lanes {
		if err := store.InsertLane(ctx, lane); err != nil {
			return result, err
		}
		result.Lanes++
	}
	for _, c := range carriers {
		if err := store.InsertCarrier(ctx, c); err != nil {
			return result, err
		}
		result.Carriers++
	}
	for _, bid := range bids {
		if err := store.InsertBid(ctx, bid); err != nil {
			return result, err
		}
		result.Bids++
	}

	a.Logger.Info().Int("slabs", result.Slabs).
		Int("accessorials", result.Accessorials).
		Int("lanes", result.Lanes).
		Int("carriers", result.Carriers).
		Int("bids", result.Bids).
		Msg("reference data imported")
	return result, nil
}

// importSlabs converts slab records and checks them against the stored
// catalog so an overlapping bracket is rejected before anything is written.
func (a *App) importSlabs(ctx context.Context, store Backend, records []SlabRecord) ([]ratecard.Slab, error) {
	if len(records) == 0 {
		return nil, nil
	}
	existing, err := store.LoadRateCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rate catalog: %w", err)
	}

	slabs := make([]ratecard.Slab, 0, len(records))
	for _, rec := range records {
		slabs = append(slabs, rec.slab())
	}
	merged := append(existing.Slabs(), slabs...)
	if _, err := ratecard.NewCatalog(merged); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return slabs, nil
}

func (a *App) importAccessorials(ctx context.Context, store Backend, records []AccessorialRecord) ([]accessorial.Definition, error) {
	if len(records) == 0 {
		return nil, nil
	}
	existing, err := store.LoadAccessorialBook(ctx)
	if err != nil {
		return nil, fmt.Errorf("load accessorial book: %w", err)
	}

	defs := make([]accessorial.Definition, 0, len(records))
	for _, rec := range records {
		defs = append(defs, rec.definition())
	}
	merged := append(existing.Definitions(), defs...)
	if _, err := accessorial.NewBook(merged); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return defs, nil
}

func (r LocationRecord) location() procurement.Location {
	return procurement.Location{City: r.City, State: r.State, Zip: r.Zip, Country: r.Country, Lat: r.Lat, Lng: r.Lng}
}

func (r LaneRecord) lane(now time.Time) procurement.Lane {
	status := procurement.LaneStatus(r.Status)
	if status == "" {
		status = procurement.LaneDraft
	}
	return procurement.Lane{
		ID:            idOrNew(r.ID),
		Name:          r.Name,
		Origin:        r.Origin.location(),
		Destination:   r.Destination.location(),
		LaneType:      procurement.EquipmentClass(r.LaneType),
		DistanceMiles: nullable(r.DistanceMiles),
		Volume:        nullable(r.Volume),
		VolumeUnit:    r.VolumeUnit,
		Equipment:     r.Equipment,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r CarrierRecord) carrier(now time.Time) procurement.Carrier {
	status := procurement.CarrierStatus(r.Status)
	if status == "" {
		status = procurement.CarrierPendingApproval
	}
	level := procurement.ServiceLevel(r.ServiceLevel)
	if level == "" {
		level = procurement.ServiceStandard
	}
	return procurement.Carrier{
		ID:                   idOrNew(r.ID),
		Name:                 r.Name,
		CarrierType:          procurement.EquipmentClass(r.CarrierType),
		ServiceLevel:         level,
		Rating:               r.Rating,
		OperatingRadiusMiles: r.OperatingRadiusMiles,
		Base:                 r.Base.location(),
		Status:               status,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

func (r BidRecord) bid(now time.Time, defaultCurrency string) procurement.Bid {
	currency := strings.ToUpper(r.Currency)
	if currency == "" {
		currency = defaultCurrency
	}
	return procurement.Bid{
		ID:                 idOrNew(r.ID),
		Name:               r.Name,
		Description:        r.Description,
		Status:             procurement.BidDraft,
		LaneIDs:            r.LaneIDs,
		SubmissionDeadline: r.SubmissionDeadline.UTC(),
		Budget:             nullable(r.Budget),
		Currency:           currency,
		Requirements: procurement.Requirements{
			EquipmentTypes:        r.EquipmentTypes,
			HazmatRequired:        r.HazmatRequired,
			TemperatureControlled: r.TemperatureControl,
			MinCarrierRating:      nullable(r.MinCarrierRating),
			ServiceLevel:          procurement.ServiceLevel(r.ServiceLevel),
		},
		CreatedBy: r.CreatedBy,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r SlabRecord) slab() ratecard.Slab {
	return ratecard.Slab{
		EffectiveDate:      r.EffectiveDate,
		PriceMin:           r.PriceMin,
		PriceMax:           r.PriceMax,
		SurchargePercent:   nullable(r.SurchargePercent),
		BasePrice:          r.BasePrice,
		ChangePerUnit:      nullable(r.ChangePerUnit),
		Currency:           strings.ToUpper(r.Currency),
		Region:             r.Region,
		MinSurchargeAmount: nullable(r.MinSurchargeAmount),
		MaxSurchargeAmount: nullable(r.MaxSurchargeAmount),
		Notes:              r.Notes,
	}
}

func (r AccessorialRecord) definition() accessorial.Definition {
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return accessorial.Definition{
		Code:            strings.ToUpper(r.Code),
		Name:            r.Name,
		AppliesTo:       accessorial.AppliesTo(r.AppliesTo),
		RateType:        accessorial.RateType(r.RateType),
		RateValue:       r.RateValue,
		Unit:            r.Unit,
		Taxable:         r.Taxable,
		IncludedInBase:  r.IncludedInBase,
		EquipmentTypes:  r.EquipmentTypes,
		CarrierEditable: r.CarrierEditable,
		Active:          active,
		EffectiveFrom:   r.EffectiveFrom,
		EffectiveTo:     r.EffectiveTo,
		Remarks:         r.Remarks,
	}
}

func idOrNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHook decodes YAML numbers and strings into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case float64:
			return decimal.NewFromString(strconv.FormatFloat(v, 'f', -1, 64))
		case float32:
			return decimal.NewFromString(strconv.FormatFloat(float64(v), 'f', -1, 32))
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case uint64:
			return decimal.NewFromString(strconv.FormatUint(v, 10))
		default:
			return data, nil
		}
	}
}

var timeType = reflect.TypeOf(time.Time{})

// timeHook accepts dates and RFC 3339 timestamps.
func timeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != timeType {
			return data, nil
		}
		s, ok := data.(string)
		if !ok {
			return data, nil
		}
		s = strings.TrimSpace(s)
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), nil
		}
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, fmt.Errorf("parse time %q: %w", s, err)
		}
		return t, nil
	}
}
