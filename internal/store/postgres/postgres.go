// Package postgres implements the persistence collaborator from spec §6:
// findAsset/upsertAsset/findPriorAsset/insertHistory against a pgx/v5 pool,
// enforcing the uniqueness of (unique_id, asset_id) history rows.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cs2inspect/gateway/internal/domain"
)

func encodeStickers(s []domain.Sticker) ([]byte, error) {
	if s == nil {
		s = []domain.Sticker{}
	}
	return json.Marshal(s)
}

func decodeStickers(raw []byte) []domain.Sticker {
	var s []domain.Sticker
	_ = json.Unmarshal(raw, &s)
	return s
}

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn and returns a Store. Callers should call
// EnsureSchema once at startup.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the asset/history tables if they do not already
// exist. The schema is intentionally minimal; migrations are out of scope
// (spec §1 Non-goal d, multi-process distribution, implies no shared
// migration tooling either).
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS assets (
	unique_id   TEXT PRIMARY KEY,
	asset_id    BIGINT NOT NULL,
	def_index   INT NOT NULL,
	paint_index INT NOT NULL,
	paint_seed  INT,
	paint_wear  DOUBLE PRECISION,
	rarity      INT NOT NULL,
	origin      INT NOT NULL,
	quest_id    INT NOT NULL,
	owner       TEXT NOT NULL,
	stickers    JSONB NOT NULL DEFAULT '[]',
	keychains   JSONB NOT NULL DEFAULT '[]',
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS assets_asset_id_idx ON assets (asset_id);

CREATE TABLE IF NOT EXISTS history (
	id         BIGSERIAL PRIMARY KEY,
	unique_id  TEXT NOT NULL,
	asset_id   BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	owner      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (unique_id, asset_id)
);
`)
	return err
}

// FindAsset returns the asset row for assetID, or nil if none exists.
func (s *Store) FindAsset(ctx context.Context, assetID uint64) (*domain.AssetRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT unique_id, asset_id, def_index, paint_index, paint_seed, paint_wear,
       rarity, origin, quest_id, owner, stickers, keychains, updated_at
FROM assets WHERE asset_id = $1
ORDER BY updated_at DESC LIMIT 1`, assetID)
	return scanAsset(row)
}

// FindPriorAsset locates the asset record that immediately preceded the
// given one for history classification (spec §4.6), keyed by uniqueId so
// the caller can compare the previous observed attributes.
func (s *Store) FindPriorAsset(ctx context.Context, uniqueID string) (*domain.AssetRecord, error) {
	row := s.pool.QueryRow(ctx, `
SELECT unique_id, asset_id, def_index, paint_index, paint_seed, paint_wear,
       rarity, origin, quest_id, owner, stickers, keychains, updated_at
FROM assets WHERE unique_id = $1`, uniqueID)
	return scanAsset(row)
}

func scanAsset(row pgx.Row) (*domain.AssetRecord, error) {
	var rec domain.AssetRecord
	var stickers, keychains []byte
	err := row.Scan(&rec.UniqueID, &rec.AssetID, &rec.DefIndex, &rec.PaintIndex,
		&rec.PaintSeed, &rec.PaintWear, &rec.Rarity, &rec.Origin, &rec.QuestID,
		&rec.Owner, &stickers, &keychains, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Stickers = decodeStickers(stickers)
	rec.Keychains = decodeStickers(keychains)
	return &rec, nil
}

// UpsertAsset writes rec keyed by UniqueID, overwriting any prior row for
// the same derived item identity (spec §3 "upsert key").
func (s *Store) UpsertAsset(ctx context.Context, rec domain.AssetRecord) error {
	stickers, err := encodeStickers(rec.Stickers)
	if err != nil {
		return err
	}
	keychains, err := encodeStickers(rec.Keychains)
	if err != nil {
		return err
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO assets (unique_id, asset_id, def_index, paint_index, paint_seed,
                     paint_wear, rarity, origin, quest_id, owner, stickers,
                     keychains, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (unique_id) DO UPDATE SET
	asset_id = EXCLUDED.asset_id,
	def_index = EXCLUDED.def_index,
	paint_index = EXCLUDED.paint_index,
	paint_seed = EXCLUDED.paint_seed,
	paint_wear = EXCLUDED.paint_wear,
	rarity = EXCLUDED.rarity,
	origin = EXCLUDED.origin,
	quest_id = EXCLUDED.quest_id,
	owner = EXCLUDED.owner,
	stickers = EXCLUDED.stickers,
	keychains = EXCLUDED.keychains,
	updated_at = EXCLUDED.updated_at`,
		rec.UniqueID, rec.AssetID, rec.DefIndex, rec.PaintIndex, rec.PaintSeed,
		rec.PaintWear, rec.Rarity, rec.Origin, rec.QuestID, rec.Owner,
		stickers, keychains, rec.UpdatedAt)
	return err
}

// InsertHistory appends rec, silently ignoring a duplicate (unique_id,
// asset_id) pair per spec §4.6 "appended only if not already logged".
func (s *Store) InsertHistory(ctx context.Context, rec domain.HistoryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO history (unique_id, asset_id, event_type, owner, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (unique_id, asset_id) DO NOTHING`,
		rec.UniqueID, rec.AssetID, string(rec.Type), rec.Owner, rec.CreatedAt)
	return err
}

// HasHistory reports whether a history row already exists for the pair,
// i.e. whether a fresh row would be ignored by the uniqueness constraint.
func (s *Store) HasHistory(ctx context.Context, uniqueID string, assetID uint64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM history WHERE unique_id = $1 AND asset_id = $2)`,
		uniqueID, assetID).Scan(&exists)
	return exists, err
}
