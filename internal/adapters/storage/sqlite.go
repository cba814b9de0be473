package storage

// sqlite.go — log de settlements y predicciones, resolución actual por mercado y
// snapshot de pools.
//
// Estrategia:
//   - `settlements` y `predictions`: append-only, una fila por intento.
//   - `resolutions`: UNA fila por mercado (UPSERT), la última escritura gana.
//   - `pools`: UNA fila por pool_id (UPSERT). Es la caché last-known-good de DeFiLlama.
//   - Cache en memoria de pools: evita reescribir los ~miles de pools que no cambiaron
//     (APY igual y TVL < 1% de cambio), salvo que la fila tenga más de 1h.
//   - Prune automático al arrancar: logs > 90d, pools no vistos en 7d.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/destaker/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
-- Log de clasificaciones (append-only)
CREATE TABLE IF NOT EXISTS settlements (
    id           TEXT PRIMARY KEY,
    execution_id TEXT    NOT NULL DEFAULT '',
    market_id    TEXT    NOT NULL,
    asset        TEXT    NOT NULL,
    current_apy  REAL    NOT NULL DEFAULT 0,
    threshold    REAL    NOT NULL DEFAULT 0,
    outcome      TEXT    NOT NULL,
    confidence   REAL    NOT NULL DEFAULT 0,
    reasoning    TEXT    NOT NULL DEFAULT '',
    data_sources TEXT    NOT NULL DEFAULT '[]',
    source       TEXT    NOT NULL DEFAULT 'model',
    created_at   TEXT    NOT NULL
);

-- Log de predicciones (append-only)
CREATE TABLE IF NOT EXISTS predictions (
    id                 TEXT PRIMARY KEY,
    market_id          TEXT NOT NULL,
    asset              TEXT NOT NULL,
    predicted_apy      REAL NOT NULL DEFAULT 0,
    confidence         REAL NOT NULL DEFAULT 0,
    direction          TEXT NOT NULL DEFAULT '',
    prob_above         REAL NOT NULL DEFAULT 0,
    reasoning          TEXT NOT NULL DEFAULT '',
    risk_factors       TEXT NOT NULL DEFAULT '[]',
    current_apy        REAL NOT NULL DEFAULT 0,
    threshold          REAL NOT NULL DEFAULT 0,
    settlement_date    TEXT NOT NULL DEFAULT '',
    model              TEXT NOT NULL DEFAULT '',
    data_sources       TEXT NOT NULL DEFAULT '[]',
    created_at         TEXT NOT NULL
);

-- Resolución actual, una fila por mercado
CREATE TABLE IF NOT EXISTS resolutions (
    market_id     TEXT PRIMARY KEY,
    asset         TEXT    NOT NULL,
    threshold     REAL    NOT NULL DEFAULT 0,
    final_apy     REAL    NOT NULL DEFAULT 0,
    resolved      INTEGER NOT NULL DEFAULT 0,
    source        TEXT    NOT NULL DEFAULT '',
    data          TEXT    NOT NULL DEFAULT '{}',
    resolved_at   TEXT    NOT NULL
);

-- Snapshot de pools, una fila por pool_id
CREATE TABLE IF NOT EXISTS pools (
    pool_id      TEXT PRIMARY KEY,
    chain        TEXT    NOT NULL DEFAULT '',
    project      TEXT    NOT NULL DEFAULT '',
    symbol       TEXT    NOT NULL DEFAULT '',
    apy          REAL,
    apy_base     REAL,
    apy_reward   REAL,
    apy_mean_30d REAL,
    tvl_usd      REAL    NOT NULL DEFAULT 0,
    stablecoin   INTEGER NOT NULL DEFAULT 0,
    updated_at   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_settle_market ON settlements(market_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_settle_at     ON settlements(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_pred_market   ON predictions(market_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_pools_tvl     ON pools(tvl_usd DESC);
`

// Ancho fijo: el orden lexicográfico de created_at coincide con el cronológico.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const (
	retentionLogs  = 90 * 24 * time.Hour // settlements y predicciones: 90 días
	retentionPools = 7 * 24 * time.Hour  // pools que DeFiLlama dejó de listar
	tvlChangePct   = 0.01                // 1% de cambio en TVL → reescribir
	poolRefreshAge = time.Hour           // reescribir aunque no cambie, para mantener updated_at
)

// cachedPool es el snapshot del último estado guardado de un pool.
type cachedPool struct {
	apy       float64
	tvl       float64
	writtenAt time.Time
}

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db    *sql.DB
	cache map[string]cachedPool // poolID → estado guardado
	mu    sync.Mutex
	now   func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema, limpia datos antiguos y precarga la cache.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{
		db:    db,
		cache: make(map[string]cachedPool),
		now:   func() time.Time { return time.Now().UTC() },
	}
	s.pruneOld(context.Background())
	s.warmCache(context.Background())
	return s, nil
}

// --- settlements ---

// SaveSettlements añade los resultados al log. Asigna id y timestamp si faltan.
func (s *SQLiteStorage) SaveSettlements(ctx context.Context, results []domain.SettlementResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SaveSettlements: begin tx: %w: %w", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO settlements
			(id, execution_id, market_id, asset, current_apy, threshold, outcome,
			 confidence, reasoning, data_sources, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("storage.SaveSettlements: prepare: %w: %w", domain.ErrPersistence, err)
	}
	defer stmt.Close()

	for _, r := range results {
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		ts := r.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		source := r.Source
		if source == "" {
			source = domain.SourceModel
		}
		sources, err := encodeJSON(r.DataSources, "[]")
		if err != nil {
			return fmt.Errorf("storage.SaveSettlements: encode data_sources: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			id, r.ExecutionID, r.MarketID, r.Asset, r.CurrentAPY, r.Threshold,
			string(r.Outcome), r.Confidence, r.Reasoning, sources, string(source),
			formatTS(ts),
		); err != nil {
			return fmt.Errorf("storage.SaveSettlements: insert %s: %w: %w", r.MarketID, domain.ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.SaveSettlements: commit: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

// ListSettlements devuelve el log, más recientes primero. marketID vacío = todos.
func (s *SQLiteStorage) ListSettlements(ctx context.Context, marketID string, limit int) ([]domain.SettlementResult, error) {
	if limit <= 0 {
		limit = -1 // sin límite en SQLite
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, market_id, asset, current_apy, threshold, outcome,
		       confidence, reasoning, data_sources, source, created_at
		FROM settlements
		WHERE ? = '' OR market_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, marketID, marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.ListSettlements: query: %w", err)
	}
	defer rows.Close()

	out := []domain.SettlementResult{}
	for rows.Next() {
		var r domain.SettlementResult
		var outcome, source, sources, createdAt string
		if err := rows.Scan(
			&r.ID, &r.ExecutionID, &r.MarketID, &r.Asset, &r.CurrentAPY, &r.Threshold,
			&outcome, &r.Confidence, &r.Reasoning, &sources, &source, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("storage.ListSettlements: scan row: %w", err)
		}
		r.Outcome = domain.Outcome(outcome)
		r.Source = domain.SettlementSource(source)
		r.Timestamp = parseTS(createdAt)
		r.DataSources = []string{}
		_ = json.Unmarshal([]byte(sources), &r.DataSources)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- predicciones ---

// SavePrediction añade una predicción al log y la devuelve con id y created_at asignados.
func (s *SQLiteStorage) SavePrediction(ctx context.Context, p domain.PredictionRecord) (domain.PredictionRecord, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	if p.RiskFactors == nil {
		p.RiskFactors = []string{}
	}
	risks, err := encodeJSON(p.RiskFactors, "[]")
	if err != nil {
		return p, fmt.Errorf("storage.SavePrediction: encode risk_factors: %w", err)
	}
	sources, err := encodeJSON(p.DataSources, "[]")
	if err != nil {
		return p, fmt.Errorf("storage.SavePrediction: encode data_sources: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO predictions
			(id, market_id, asset, predicted_apy, confidence, direction, prob_above,
			 reasoning, risk_factors, current_apy, threshold, settlement_date, model,
			 data_sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ID, p.MarketID, p.Asset, p.PredictedAPY, p.Confidence, string(p.Direction),
		p.ProbabilityAboveThreshold, p.Reasoning, risks, p.CurrentAPY, p.Threshold,
		p.SettlementDate, p.Model, sources, formatTS(p.CreatedAt),
	); err != nil {
		return p, fmt.Errorf("storage.SavePrediction: insert %s: %w: %w", p.MarketID, domain.ErrPersistence, err)
	}
	return p, nil
}

// LatestPredictions devuelve la última predicción de cada mercado.
func (s *SQLiteStorage) LatestPredictions(ctx context.Context) (map[string]domain.PredictionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, market_id, asset, predicted_apy, confidence, direction, prob_above,
		       reasoning, risk_factors, current_apy, threshold, settlement_date, model, created_at
		FROM predictions
		ORDER BY created_at DESC, rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("storage.LatestPredictions: query: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.PredictionRecord)
	for rows.Next() {
		var p domain.PredictionRecord
		var direction, risks, createdAt string
		if err := rows.Scan(
			&p.ID, &p.MarketID, &p.Asset, &p.PredictedAPY, &p.Confidence, &direction,
			&p.ProbabilityAboveThreshold, &p.Reasoning, &risks, &p.CurrentAPY,
			&p.Threshold, &p.SettlementDate, &p.Model, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("storage.LatestPredictions: scan row: %w", err)
		}
		if _, seen := out[p.MarketID]; seen {
			continue // ya tenemos una más reciente
		}
		p.Direction = domain.Direction(direction)
		p.CreatedAt = parseTS(createdAt)
		p.RiskFactors = []string{}
		_ = json.Unmarshal([]byte(risks), &p.RiskFactors)
		out[p.MarketID] = p
	}
	return out, rows.Err()
}

// --- resoluciones ---

// UpsertResolution escribe la resolución actual del mercado. La última escritura gana.
func (s *SQLiteStorage) UpsertResolution(ctx context.Context, r domain.Resolution) error {
	if r.MarketID == "" {
		return fmt.Errorf("storage.UpsertResolution: empty market id: %w", domain.ErrInvalidRequest)
	}
	ts := r.ResolutionTimestamp
	if ts.IsZero() {
		ts = s.now()
	}
	data, err := encodeJSON(r.ResolutionData, "{}")
	if err != nil {
		return fmt.Errorf("storage.UpsertResolution: encode data: %w", err)
	}
	resolved := 0
	if r.Resolved {
		resolved = 1
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO resolutions
			(market_id, asset, threshold, final_apy, resolved, source, data, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(market_id) DO UPDATE SET
			asset       = excluded.asset,
			threshold   = excluded.threshold,
			final_apy   = excluded.final_apy,
			resolved    = excluded.resolved,
			source      = excluded.source,
			data        = excluded.data,
			resolved_at = excluded.resolved_at
	`, r.MarketID, r.Asset, r.Threshold, r.FinalAPY, resolved, r.ResolutionSource, data, formatTS(ts),
	); err != nil {
		return fmt.Errorf("storage.UpsertResolution: upsert %s: %w: %w", r.MarketID, domain.ErrPersistence, err)
	}
	return nil
}

// GetResolution devuelve la resolución actual del mercado.
func (s *SQLiteStorage) GetResolution(ctx context.Context, marketID string) (domain.Resolution, bool, error) {
	var r domain.Resolution
	var resolved int
	var data, resolvedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT market_id, asset, threshold, final_apy, resolved, source, data, resolved_at
		FROM resolutions WHERE market_id = ?
	`, marketID).Scan(&r.MarketID, &r.Asset, &r.Threshold, &r.FinalAPY, &resolved, &r.ResolutionSource, &data, &resolvedAt)
	if err == sql.ErrNoRows {
		return domain.Resolution{}, false, nil
	}
	if err != nil {
		return domain.Resolution{}, false, fmt.Errorf("storage.GetResolution: %w", err)
	}
	r.Resolved = resolved == 1
	r.ResolutionTimestamp = parseTS(resolvedAt)
	_ = json.Unmarshal([]byte(data), &r.ResolutionData)
	return r, true, nil
}

// --- pools ---

// SavePools hace upsert de los pools que cambiaron respecto al último snapshot guardado.
func (s *SQLiteStorage) SavePools(ctx context.Context, pools []domain.PoolRecord) error {
	now := s.now()
	toWrite := s.filterChanged(pools, now)
	if len(toWrite) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.SavePools: begin tx: %w: %w", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pools
			(pool_id, chain, project, symbol, apy, apy_base, apy_reward, apy_mean_30d,
			 tvl_usd, stablecoin, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pool_id) DO UPDATE SET
			chain        = excluded.chain,
			project      = excluded.project,
			symbol       = excluded.symbol,
			apy          = excluded.apy,
			apy_base     = excluded.apy_base,
			apy_reward   = excluded.apy_reward,
			apy_mean_30d = excluded.apy_mean_30d,
			tvl_usd      = excluded.tvl_usd,
			stablecoin   = excluded.stablecoin,
			updated_at   = excluded.updated_at
	`)
	if err != nil {
		s.forget(toWrite)
		return fmt.Errorf("storage.SavePools: prepare: %w: %w", domain.ErrPersistence, err)
	}
	defer stmt.Close()

	for _, p := range toWrite {
		stable := 0
		if p.Stablecoin {
			stable = 1
		}
		if _, err := stmt.ExecContext(ctx,
			p.PoolID, p.Chain, p.Project, p.Symbol,
			nullable(p.APY), nullable(p.APYBase), nullable(p.APYReward), nullable(p.APYMean30d),
			p.TVLUSD, stable, formatTS(now),
		); err != nil {
			s.forget(toWrite)
			return fmt.Errorf("storage.SavePools: upsert %s: %w: %w", p.PoolID, domain.ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.forget(toWrite)
		return fmt.Errorf("storage.SavePools: commit: %w: %w", domain.ErrPersistence, err)
	}
	return nil
}

// LoadPools devuelve los pools cacheados ordenados por TVL desc. limit <= 0 = todos.
func (s *SQLiteStorage) LoadPools(ctx context.Context, limit int) ([]domain.PoolRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pool_id, chain, project, symbol, apy, apy_base, apy_reward, apy_mean_30d,
		       tvl_usd, stablecoin
		FROM pools
		ORDER BY tvl_usd DESC, pool_id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage.LoadPools: query: %w", err)
	}
	defer rows.Close()

	out := []domain.PoolRecord{}
	for rows.Next() {
		var p domain.PoolRecord
		var apy, base, reward, mean sql.NullFloat64
		var stable int
		if err := rows.Scan(&p.PoolID, &p.Chain, &p.Project, &p.Symbol,
			&apy, &base, &reward, &mean, &p.TVLUSD, &stable); err != nil {
			return nil, fmt.Errorf("storage.LoadPools: scan row: %w", err)
		}
		p.APY, p.APYBase, p.APYReward, p.APYMean30d = ptr(apy), ptr(base), ptr(reward), ptr(mean)
		p.Stablecoin = stable == 1
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

// filterChanged devuelve los pools que cambiaron respecto al estado en caché,
// y actualiza la caché con el nuevo estado.
func (s *SQLiteStorage) filterChanged(pools []domain.PoolRecord, now time.Time) []domain.PoolRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toWrite []domain.PoolRecord
	for _, p := range pools {
		if p.PoolID == "" {
			continue
		}
		apy := p.CurrentAPY()
		if prev, ok := s.cache[p.PoolID]; ok {
			unchanged := prev.apy == apy &&
				relChange(prev.tvl, p.TVLUSD) < tvlChangePct &&
				now.Sub(prev.writtenAt) < poolRefreshAge
			if unchanged {
				continue
			}
		}
		toWrite = append(toWrite, p)
		s.cache[p.PoolID] = cachedPool{apy: apy, tvl: p.TVLUSD, writtenAt: now}
	}
	return toWrite
}

// forget invalida la caché de pools cuyo write falló, para reintentarlos en el próximo ciclo.
func (s *SQLiteStorage) forget(pools []domain.PoolRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pools {
		delete(s.cache, p.PoolID)
	}
}

// pruneOld elimina datos antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	now := s.now()
	cutoffLogs := formatTS(now.Add(-retentionLogs))
	cutoffPools := formatTS(now.Add(-retentionPools))
	s.db.ExecContext(ctx, `DELETE FROM settlements WHERE created_at < ?`, cutoffLogs)
	s.db.ExecContext(ctx, `DELETE FROM predictions WHERE created_at < ?`, cutoffLogs)
	s.db.ExecContext(ctx, `DELETE FROM pools WHERE updated_at < ?`, cutoffPools)
}

// warmCache precarga la caché desde la DB al arrancar, evitando escrituras
// redundantes en el primer ciclo tras un reinicio.
func (s *SQLiteStorage) warmCache(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pool_id, COALESCE(apy, apy_base, 0), tvl_usd, updated_at FROM pools`,
	)
	if err != nil {
		return
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var id, updatedAt string
		var apy, tvl float64
		if rows.Scan(&id, &apy, &tvl, &updatedAt) == nil {
			s.cache[id] = cachedPool{apy: apy, tvl: tvl, writtenAt: parseTS(updatedAt)}
		}
	}
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func encodeJSON(v any, empty string) (string, error) {
	if v == nil {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// relChange devuelve el cambio relativo entre dos valores (0.0 – ∞).
func relChange(old, new float64) float64 {
	if old == 0 {
		if new == 0 {
			return 0
		}
		return 1.0 // forzar escritura si antes era 0
	}
	return math.Abs(new-old) / math.Abs(old)
}
