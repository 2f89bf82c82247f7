package storage

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"freight-procurement/internal/lifecycle"
	"freight-procurement/internal/procurement"
)

var (
	bidColumns = []string{
		"id", "name", "description", "status", "lane_ids", "submission_deadline",
		"budget", "currency", "requirements", "created_by", "version",
		"created_at", "updated_at", "published_at", "opened_at", "closed_at",
		"cancelled_at", "awarded_at", "awarded_by", "awarded_response_id",
	}
	laneColumns = []string{
		"id", "name",
		"origin_city", "origin_state", "origin_zip", "origin_country", "origin_lat", "origin_lng",
		"dest_city", "dest_state", "dest_zip", "dest_country", "dest_lat", "dest_lng",
		"lane_type", "distance_miles", "volume", "volume_unit", "equipment", "status",
		"created_by", "created_at", "updated_at",
	}
	carrierColumns = []string{
		"id", "name", "carrier_type", "service_level", "rating", "operating_radius_miles",
		"base_city", "base_state", "base_zip", "base_country", "base_lat", "base_lng",
		"status", "created_at", "updated_at",
	}
	responseColumns = []string{
		"id", "bid_id", "carrier_id", "rate", "rate_type", "currency", "transit_time_hours",
		"equipment_available", "notes", "status", "version", "created_by", "created_at",
		"updated_at", "submitted_at", "reviewed_at", "reviewed_by", "decided_at", "decided_by",
	}
)

// requirementsJSON is the stored shape of procurement.Requirements.
type requirementsJSON struct {
	EquipmentTypes        []string `json:"equipment_types,omitempty"`
	HazmatRequired        bool     `json:"hazmat_required,omitempty"`
	TemperatureControlled bool     `json:"temperature_controlled,omitempty"`
	MinCarrierRating      *string  `json:"min_carrier_rating,omitempty"`
	ServiceLevel          string   `json:"service_level,omitempty"`
}

func encodeRequirements(r procurement.Requirements) ([]byte, error) {
	doc := requirementsJSON{
		EquipmentTypes:        r.EquipmentTypes,
		HazmatRequired:        r.HazmatRequired,
		TemperatureControlled: r.TemperatureControlled,
		ServiceLevel:          string(r.ServiceLevel),
	}
	if r.MinCarrierRating.Valid {
		v := r.MinCarrierRating.Decimal.String()
		doc.MinCarrierRating = &v
	}
	return json.Marshal(doc)
}

func decodeRequirements(raw []byte) (procurement.Requirements, error) {
	if len(raw) == 0 {
		return procurement.Requirements{}, nil
	}
	var doc requirementsJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return procurement.Requirements{}, fmt.Errorf("decode requirements: %w", err)
	}
	rating, err := parseNullDecimal("min carrier rating", doc.MinCarrierRating)
	if err != nil {
		return procurement.Requirements{}, err
	}
	return procurement.Requirements{
		EquipmentTypes:        doc.EquipmentTypes,
		HazmatRequired:        doc.HazmatRequired,
		TemperatureControlled: doc.TemperatureControlled,
		MinCarrierRating:      rating,
		ServiceLevel:          procurement.ServiceLevel(doc.ServiceLevel),
	}, nil
}

// InsertBid stores a new bid.
func (s *Store) InsertBid(ctx context.Context, bid procurement.Bid) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	reqs, err := encodeRequirements(bid.Requirements)
	if err != nil {
		return err
	}
	if bid.Version == 0 {
		bid.Version = 1
	}

	query, args, err := psql.Insert("bids").
		Columns(bidColumns...).
		Values(
			bid.ID, bid.Name, bid.Description, string(bid.Status), bid.LaneIDs, bid.SubmissionDeadline,
			nullDecimalArg(bid.Budget), bid.Currency, reqs, bid.CreatedBy, bid.Version,
			bid.CreatedAt, bid.UpdatedAt, bid.PublishedAt, bid.OpenedAt, bid.ClosedAt,
			bid.CancelledAt, bid.AwardedAt, bid.AwardedBy, bid.AwardedResponseID,
		).ToSql()
	if err != nil {
		return fmt.Errorf("build insert bid: %w", err)
	}
	if _, err := db.Exec(ctx, query, args...); err != nil {
		return mapError("insert bid", err)
	}
	return nil
}

// GetBid loads a bid by id.
func (s *Store) GetBid(ctx context.Context, id string) (procurement.Bid, error) {
	return s.getBid(ctx, id, false)
}

// LockBid loads a bid and holds its row lock until the surrounding
// transaction ends.
func (s *Store) LockBid(ctx context.Context, id string) (procurement.Bid, error) {
	return s.getBid(ctx, id, true)
}

func (s *Store) getBid(ctx context.Context, id string, forUpdate bool) (procurement.Bid, error) {
	db, err := s.db()
	if err != nil {
		return procurement.Bid{}, err
	}
	builder := psql.Select(bidColumns...).From("bids").Where(sq.Eq{"id": id})
	if forUpdate {
		builder = builder.Suffix("FOR UPDATE")
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return procurement.Bid{}, fmt.Errorf("build get bid: %w", err)
	}

	bid, err := scanBid(db.QueryRow(ctx, query, args...))
	if err != nil {
		return procurement.Bid{}, mapError("get bid "+id, err)
	}
	return bid, nil
}

// ListBids lists bids, optionally restricted to the given statuses.
func (s *Store) ListBids(ctx context.Context, statuses []procurement.BidStatus, limit int) ([]procurement.Bid, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	builder := psql.Select(bidColumns...).From("bids").OrderBy("created_at DESC")
	if len(statuses) > 0 {
		builder = builder.Where(sq.Eq{"status": statusStrings(statuses)})
	}
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list bids: %w", err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list bids", err)
	}
	defer rows.Close()

	bids := make([]procurement.Bid, 0)
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// UpdateBid persists bid with a compare-and-swap on its version.
func (s *Store) UpdateBid(ctx context.Context, bid procurement.Bid) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	reqs, err := encodeRequirements(bid.Requirements)
	if err != nil {
		return err
	}

	query, args, err := psql.Update("bids").
		Set("name", bid.Name).
		Set("description", bid.Description).
		Set("status", string(bid.Status)).
		Set("lane_ids", bid.LaneIDs).
		Set("submission_deadline", bid.SubmissionDeadline).
		Set("budget", nullDecimalArg(bid.Budget)).
		Set("currency", bid.Currency).
		Set("requirements", reqs).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", bid.UpdatedAt).
		Set("published_at", bid.PublishedAt).
		Set("opened_at", bid.OpenedAt).
		Set("closed_at", bid.ClosedAt).
		Set("cancelled_at", bid.CancelledAt).
		Set("awarded_at", bid.AwardedAt).
		Set("awarded_by", bid.AwardedBy).
		Set("awarded_response_id", bid.AwardedResponseID).
		Where(sq.Eq{"id": bid.ID, "version": bid.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update bid: %w", err)
	}

	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		return mapError("update bid", err)
	}
	if tag.RowsAffected() == 0 {
		return s.casFailure(ctx, db, "bids", bid.ID)
	}
	return nil
}

// InsertLane stores a new lane.
func (s *Store) InsertLane(ctx context.Context, lane procurement.Lane) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("lanes").
		Columns(laneColumns...).
		Values(
			lane.ID, lane.Name,
			lane.Origin.City, lane.Origin.State, lane.Origin.Zip, lane.Origin.Country, lane.Origin.Lat, lane.Origin.Lng,
			lane.Destination.City, lane.Destination.State, lane.Destination.Zip, lane.Destination.Country, lane.Destination.Lat, lane.Destination.Lng,
			string(lane.LaneType), nullDecimalArg(lane.DistanceMiles), nullDecimalArg(lane.Volume), lane.VolumeUnit, lane.Equipment, string(lane.Status),
			lane.CreatedBy, lane.CreatedAt, lane.UpdatedAt,
		).ToSql()
	if err != nil {
		return fmt.Errorf("build insert lane: %w", err)
	}
	if _, err := db.Exec(ctx, query, args...); err != nil {
		return mapError("insert lane", err)
	}
	return nil
}

// ListLanes loads the lanes with the given ids. Missing ids are skipped.
// A nil slice lists every lane.
func (s *Store) ListLanes(ctx context.Context, ids []string) ([]procurement.Lane, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	builder := psql.Select(laneColumns...).From("lanes").OrderBy("id")
	if ids != nil {
		builder = builder.Where(sq.Eq{"id": ids})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list lanes: %w", err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list lanes", err)
	}
	defer rows.Close()

	lanes := make([]procurement.Lane, 0, len(ids))
	for rows.Next() {
		lane, err := scanLane(rows)
		if err != nil {
			return nil, err
		}
		lanes = append(lanes, lane)
	}
	return lanes, rows.Err()
}

// SetLaneStatus moves every listed lane to status.
func (s *Store) SetLaneStatus(ctx context.Context, ids []string, status procurement.LaneStatus) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := s.db()
	if err != nil {
		return err
	}
	query, args, err := psql.Update("lanes").
		Set("status", string(status)).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set lane status: %w", err)
	}
	if _, err := db.Exec(ctx, query, args...); err != nil {
		return mapError("set lane status", err)
	}
	return nil
}

// InsertCarrier stores a new carrier.
func (s *Store) InsertCarrier(ctx context.Context, c procurement.Carrier) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("carriers").
		Columns(carrierColumns...).
		Values(
			c.ID, c.Name, string(c.CarrierType), string(c.ServiceLevel), decimalArg(c.Rating), decimalArg(c.OperatingRadiusMiles),
			c.Base.City, c.Base.State, c.Base.Zip, c.Base.Country, c.Base.Lat, c.Base.Lng,
			string(c.Status), c.CreatedAt, c.UpdatedAt,
		).ToSql()
	if err != nil {
		return fmt.Errorf("build insert carrier: %w", err)
	}
	if _, err := db.Exec(ctx, query, args...); err != nil {
		return mapError("insert carrier", err)
	}
	return nil
}

// GetCarrier loads a carrier by id.
func (s *Store) GetCarrier(ctx context.Context, id string) (procurement.Carrier, error) {
	db, err := s.db()
	if err != nil {
		return procurement.Carrier{}, err
	}
	query, args, err := psql.Select(carrierColumns...).From("carriers").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return procurement.Carrier{}, fmt.Errorf("build get carrier: %w", err)
	}
	c, err := scanCarrier(db.QueryRow(ctx, query, args...))
	if err != nil {
		return procurement.Carrier{}, mapError("get carrier "+id, err)
	}
	return c, nil
}

// ListCarriers lists carriers matching filter.
func (s *Store) ListCarriers(ctx context.Context, filter procurement.CarrierFilter) ([]procurement.Carrier, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	builder := psql.Select(carrierColumns...).From("carriers").OrderBy("id")
	if len(filter.Statuses) > 0 {
		builder = builder.Where(sq.Eq{"status": statusStrings(filter.Statuses)})
	}
	if filter.CarrierType != "" {
		builder = builder.Where(sq.Eq{"carrier_type": string(filter.CarrierType)})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list carriers: %w", err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list carriers", err)
	}
	defer rows.Close()

	carriers := make([]procurement.Carrier, 0)
	for rows.Next() {
		c, err := scanCarrier(rows)
		if err != nil {
			return nil, err
		}
		carriers = append(carriers, c)
	}
	return carriers, rows.Err()
}

// InsertResponse stores a new response. A second response from the same
// carrier on the same bid fails with procurement.ErrDuplicate.
func (s *Store) InsertResponse(ctx context.Context, r procurement.Response) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	if r.Version == 0 {
		r.Version = 1
	}
	query, args, err := psql.Insert("bid_responses").
		Columns(responseColumns...).
		Values(
			r.ID, r.BidID, r.CarrierID, decimalArg(r.Rate), string(r.RateType), r.Currency, r.TransitTimeHours,
			r.EquipmentAvailable, r.Notes, string(r.Status), r.Version, r.CreatedBy, r.CreatedAt,
			r.UpdatedAt, r.SubmittedAt, r.ReviewedAt, r.ReviewedBy, r.DecidedAt, r.DecidedBy,
		).ToSql()
	if err != nil {
		return fmt.Errorf("build insert response: %w", err)
	}
	if _, err := db.Exec(ctx, query, args...); err != nil {
		return mapError("insert response", err)
	}
	return nil
}

// GetResponse loads a response by id.
func (s *Store) GetResponse(ctx context.Context, id string) (procurement.Response, error) {
	db, err := s.db()
	if err != nil {
		return procurement.Response{}, err
	}
	query, args, err := psql.Select(responseColumns...).From("bid_responses").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return procurement.Response{}, fmt.Errorf("build get response: %w", err)
	}
	r, err := scanResponse(db.QueryRow(ctx, query, args...))
	if err != nil {
		return procurement.Response{}, mapError("get response "+id, err)
	}
	return r, nil
}

// ListResponses lists responses matching filter in submission order.
func (s *Store) ListResponses(ctx context.Context, filter procurement.ResponseFilter) ([]procurement.Response, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	builder := psql.Select(responseColumns...).From("bid_responses").OrderBy("created_at", "id")
	if filter.BidID != "" {
		builder = builder.Where(sq.Eq{"bid_id": filter.BidID})
	}
	if filter.CarrierID != "" {
		builder = builder.Where(sq.Eq{"carrier_id": filter.CarrierID})
	}
	if len(filter.Statuses) > 0 {
		builder = builder.Where(sq.Eq{"status": statusStrings(filter.Statuses)})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list responses: %w", err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list responses", err)
	}
	defer rows.Close()

	responses := make([]procurement.Response, 0)
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// UpdateResponse persists r with a compare-and-swap on its version.
func (s *Store) UpdateResponse(ctx context.Context, r procurement.Response) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	query, args, err := psql.Update("bid_responses").
		Set("rate", decimalArg(r.Rate)).
		Set("rate_type", string(r.RateType)).
		Set("currency", r.Currency).
		Set("transit_time_hours", r.TransitTimeHours).
		Set("equipment_available", r.EquipmentAvailable).
		Set("notes", r.Notes).
		Set("status", string(r.Status)).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", r.UpdatedAt).
		Set("submitted_at", r.SubmittedAt).
		Set("reviewed_at", r.ReviewedAt).
		Set("reviewed_by", r.ReviewedBy).
		Set("decided_at", r.DecidedAt).
		Set("decided_by", r.DecidedBy).
		Where(sq.Eq{"id": r.ID, "version": r.Version}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update response: %w", err)
	}

	tag, err := db.Exec(ctx, query, args...)
	if err != nil {
		return mapError("update response", err)
	}
	if tag.RowsAffected() == 0 {
		return s.casFailure(ctx, db, "bid_responses", r.ID)
	}
	return nil
}

// AppendEvent writes an audit event.
func (s *Store) AppendEvent(ctx context.Context, e procurement.Event) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	query, args, err := psql.Insert("bid_events").
		Columns("id", "bid_id", "response_id", "kind", "from_status", "to_status", "actor", "at").
		Values(e.ID, e.BidID, e.ResponseID, string(e.Kind), e.From, e.To, e.Actor, e.At).
		ToSql()
	if err != nil {
		return fmt.Errorf("build append event: %w", err)
	}
	if _, err := db.Exec(ctx, query, args...); err != nil {
		return mapError("append event", err)
	}
	return nil
}

// ListEvents returns the audit trail of a bid, oldest first.
func (s *Store) ListEvents(ctx context.Context, bidID string) ([]procurement.Event, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	query, args, err := psql.Select("id", "bid_id", "response_id", "kind", "from_status", "to_status", "actor", "at").
		From("bid_events").
		Where(sq.Eq{"bid_id": bidID}).
		OrderBy("at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list events: %w", err)
	}
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list events", err)
	}
	defer rows.Close()

	events := make([]procurement.Event, 0)
	for rows.Next() {
		var e procurement.Event
		var kind string
		if err := rows.Scan(&e.ID, &e.BidID, &e.ResponseID, &kind, &e.From, &e.To, &e.Actor, &e.At); err != nil {
			return nil, err
		}
		e.Kind = procurement.EventKind(kind)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) casFailure(ctx context.Context, db queryer, table, id string) error {
	query, args, err := psql.Select("1").From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	var one int
	if err := db.QueryRow(ctx, query, args...).Scan(&one); err != nil {
		return mapError("update "+table, err)
	}
	return fmt.Errorf("update %s %s: %w", table, id, procurement.ErrVersionConflict)
}

func scanBid(row pgx.Row) (procurement.Bid, error) {
	var (
		bid    procurement.Bid
		status string
		budget *string
		reqs   []byte
	)
	if err := row.Scan(
		&bid.ID, &bid.Name, &bid.Description, &status, &bid.LaneIDs, &bid.SubmissionDeadline,
		&budget, &bid.Currency, &reqs, &bid.CreatedBy, &bid.Version,
		&bid.CreatedAt, &bid.UpdatedAt, &bid.PublishedAt, &bid.OpenedAt, &bid.ClosedAt,
		&bid.CancelledAt, &bid.AwardedAt, &bid.AwardedBy, &bid.AwardedResponseID,
	); err != nil {
		return procurement.Bid{}, err
	}
	bid.Status = procurement.BidStatus(status)

	var err error
	if bid.Budget, err = parseNullDecimal("budget", budget); err != nil {
		return procurement.Bid{}, err
	}
	if bid.Requirements, err = decodeRequirements(reqs); err != nil {
		return procurement.Bid{}, err
	}
	return bid, nil
}

func scanLane(row pgx.Row) (procurement.Lane, error) {
	var (
		lane             procurement.Lane
		laneType, status string
		distance, volume *string
	)
	if err := row.Scan(
		&lane.ID, &lane.Name,
		&lane.Origin.City, &lane.Origin.State, &lane.Origin.Zip, &lane.Origin.Country, &lane.Origin.Lat, &lane.Origin.Lng,
		&lane.Destination.City, &lane.Destination.State, &lane.Destination.Zip, &lane.Destination.Country, &lane.Destination.Lat, &lane.Destination.Lng,
		&laneType, &distance, &volume, &lane.VolumeUnit, &lane.Equipment, &status,
		&lane.CreatedBy, &lane.CreatedAt, &lane.UpdatedAt,
	); err != nil {
		return procurement.Lane{}, err
	}
	lane.LaneType = procurement.EquipmentClass(laneType)
	lane.Status = procurement.LaneStatus(status)

	var err error
	if lane.DistanceMiles, err = parseNullDecimal("distance", distance); err != nil {
		return procurement.Lane{}, err
	}
	if lane.Volume, err = parseNullDecimal("volume", volume); err != nil {
		return procurement.Lane{}, err
	}
	return lane, nil
}

func scanCarrier(row pgx.Row) (procurement.Carrier, error) {
	var (
		c                                 procurement.Carrier
		carrierType, serviceLevel, status string
		rating, radius                    string
	)
	if err := row.Scan(
		&c.ID, &c.Name, &carrierType, &serviceLevel, &rating, &radius,
		&c.Base.City, &c.Base.State, &c.Base.Zip, &c.Base.Country, &c.Base.Lat, &c.Base.Lng,
		&status, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return procurement.Carrier{}, err
	}
	c.CarrierType = procurement.EquipmentClass(carrierType)
	c.ServiceLevel = procurement.ServiceLevel(serviceLevel)
	c.Status = procurement.CarrierStatus(status)

	var err error
	if c.Rating, err = parseDecimal("rating", rating); err != nil {
		return procurement.Carrier{}, err
	}
	if c.OperatingRadiusMiles, err = parseDecimal("operating radius", radius); err != nil {
		return procurement.Carrier{}, err
	}
	return c, nil
}

func scanResponse(row pgx.Row) (procurement.Response, error) {
	var (
		r                procurement.Response
		rate             string
		rateType, status string
	)
	if err := row.Scan(
		&r.ID, &r.BidID, &r.CarrierID, &rate, &rateType, &r.Currency, &r.TransitTimeHours,
		&r.EquipmentAvailable, &r.Notes, &status, &r.Version, &r.CreatedBy, &r.CreatedAt,
		&r.UpdatedAt, &r.SubmittedAt, &r.ReviewedAt, &r.ReviewedBy, &r.DecidedAt, &r.DecidedBy,
	); err != nil {
		return procurement.Response{}, err
	}
	r.RateType = procurement.RateType(rateType)
	r.Status = procurement.ResponseStatus(status)

	var err error
	if r.Rate, err = parseDecimal("rate", rate); err != nil {
		return procurement.Response{}, err
	}
	return r, nil
}

var _ lifecycle.Store = (*Store)(nil)
