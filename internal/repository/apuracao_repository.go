package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"apuracao-service/internal/models"
)

// Cache TTLs. Assessments mutate through few, explicit transitions, so a
// short TTL plus invalidation on write is enough.
const (
	ApuracaoCacheTTL = 5 * time.Minute
	DASCacheTTL      = 5 * time.Minute

	cachePrefix = "apuracao-service:"
)

var (
	ErrNotFound        = errors.New("registro nao encontrado")
	ErrVersionConflict = errors.New("conflito de versao: registro alterado por outra requisicao")
	ErrDuplicateActive = errors.New("ja existe apuracao ativa para o periodo")
)

// ApuracaoRepositoryInterface is the persistence boundary consumed by the
// services; tests substitute it with a testify mock.
type ApuracaoRepositoryInterface interface {
	CreateApuracao(ctx context.Context, a *models.Apuracao) error
	GetApuracaoByID(ctx context.Context, id uuid.UUID) (*models.Apuracao, error)
	GetApuracaoAtiva(ctx context.Context, tenantID string, clientID uuid.UUID, periodo string) (*models.Apuracao, error)
	ListApuracoes(ctx context.Context, tenantID string, status string, limit, offset int) ([]models.Apuracao, int64, error)
	UpdateApuracaoStatus(ctx context.Context, a *models.Apuracao, novo models.StatusApuracao, updates map[string]interface{}) error
	ReplaceApuracaoFigures(ctx context.Context, a *models.Apuracao, grupos []models.GrupoAnexo) error

	CreateDAS(ctx context.Context, d *models.DAS) error
	GetDASByID(ctx context.Context, id uuid.UUID) (*models.DAS, error)
	ListDAS(ctx context.Context, tenantID string, status string, limit, offset int) ([]models.DAS, int64, error)
	UpdateDASStatus(ctx context.Context, d *models.DAS, novo models.StatusDAS, updates map[string]interface{}) error
	ListDASVencendo(ctx context.Context, limite time.Time) ([]models.DAS, error)
}

// ApuracaoRepository is the GORM implementation with a Redis read-through
// cache for aggregate reads.
type ApuracaoRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

var _ ApuracaoRepositoryInterface = (*ApuracaoRepository)(nil)

// NewApuracaoRepository creates the repository. redisClient may be nil;
// caching is then disabled.
func NewApuracaoRepository(db *gorm.DB, redisClient *redis.Client) *ApuracaoRepository {
	return &ApuracaoRepository{db: db, redis: redisClient}
}

func apuracaoCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("%sapuracao:%s", cachePrefix, id)
}

func dasCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("%sdas:%s", cachePrefix, id)
}

func (r *ApuracaoRepository) invalidate(ctx context.Context, key string) {
	if r.redis == nil {
		return
	}
	_ = r.redis.Del(ctx, key).Err()
}

func isDuplicateErr(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "idx_apuracao_ativa")
}

// --- Apuração ---

// CreateApuracao inserts the aggregate with its annex groups. The partial
// unique index idx_apuracao_ativa turns a concurrent double-calculate into
// ErrDuplicateActive even when both calls pass the service pre-check.
func (r *ApuracaoRepository) CreateApuracao(ctx context.Context, a *models.Apuracao) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicateActive
		}
		return err
	}
	return nil
}

func (r *ApuracaoRepository) GetApuracaoByID(ctx context.Context, id uuid.UUID) (*models.Apuracao, error) {
	cacheKey := apuracaoCacheKey(id)

	if r.redis != nil {
		if val, err := r.redis.Get(ctx, cacheKey).Result(); err == nil {
			var cached models.Apuracao
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return &cached, nil
			}
		}
	}

	var a models.Apuracao
	err := r.db.WithContext(ctx).
		Preload("Grupos").
		First(&a, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(a); err == nil {
			r.redis.Set(ctx, cacheKey, data, ApuracaoCacheTTL)
		}
	}

	return &a, nil
}

// GetApuracaoAtiva returns the single non-cancelled apuração for the client
// and competence period, or ErrNotFound.
func (r *ApuracaoRepository) GetApuracaoAtiva(ctx context.Context, tenantID string, clientID uuid.UUID, periodo string) (*models.Apuracao, error) {
	var a models.Apuracao
	err := r.db.WithContext(ctx).
		Preload("Grupos").
		Where("tenant_id = ? AND client_id = ? AND periodo = ? AND status <> ?",
			tenantID, clientID, periodo, models.StatusApuracaoCancelada).
		First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *ApuracaoRepository) ListApuracoes(ctx context.Context, tenantID string, status string, limit, offset int) ([]models.Apuracao, int64, error) {
	var apuracoes []models.Apuracao
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Apuracao{}).Where("tenant_id = ?", tenantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Grupos").
		Order("periodo DESC, created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&apuracoes).Error

	return apuracoes, total, err
}

// UpdateApuracaoStatus applies a status transition under optimistic locking.
// The caller validates legality beforehand; here only the version guard can
// fail, with ErrVersionConflict when another writer got there first.
func (r *ApuracaoRepository) UpdateApuracaoStatus(ctx context.Context, a *models.Apuracao, novo models.StatusApuracao, updates map[string]interface{}) error {
	oldVersion := a.Version

	values := map[string]interface{}{
		"status":     novo,
		"version":    oldVersion + 1,
		"updated_at": time.Now(),
	}
	for k, v := range updates {
		values[k] = v
	}

	result := r.db.WithContext(ctx).Model(&models.Apuracao{}).
		Where("id = ? AND version = ?", a.ID, oldVersion).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	a.Status = novo
	a.Version = oldVersion + 1
	r.invalidate(ctx, apuracaoCacheKey(a.ID))
	return nil
}

// ReplaceApuracaoFigures persists a recalculation: the aggregate row is
// rewritten under the version guard and the annex groups are swapped in the
// same transaction.
func (r *ApuracaoRepository) ReplaceApuracaoFigures(ctx context.Context, a *models.Apuracao, grupos []models.GrupoAnexo) error {
	oldVersion := a.Version

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Apuracao{}).
			Where("id = ? AND version = ?", a.ID, oldVersion).
			Updates(map[string]interface{}{
				"status":                  a.Status,
				"version":                 oldVersion + 1,
				"fator_r_folha_pagamento12m": a.FatorR.FolhaPagamento12m,
				"fator_r_receita12m":         a.FatorR.Receita12m,
				"fator_r_razao_percentual":   a.FatorR.RazaoPercentual,
				"fator_r_anexo_selecionado":  a.FatorR.AnexoSelecionado,
				"receita_bruta_total":     a.ReceitaBrutaTotal,
				"imposto_total":           a.ImpostoTotal,
				"aliquota_efetiva_media":  a.AliquotaEfetivaMedia,
				"historico_receita":       a.HistoricoReceita,
				"alertas":                 a.Alertas,
				"observacoes":             a.Observacoes,
				"revisoes":                a.Revisoes,
				"calculada_em":            a.CalculadaEm,
				"updated_at":              time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrVersionConflict
		}

		if err := tx.Where("apuracao_id = ?", a.ID).Delete(&models.GrupoAnexo{}).Error; err != nil {
			return err
		}
		for i := range grupos {
			grupos[i].ApuracaoID = a.ID
		}
		if len(grupos) > 0 {
			if err := tx.Create(&grupos).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	a.Version = oldVersion + 1
	a.Grupos = grupos
	r.invalidate(ctx, apuracaoCacheKey(a.ID))
	return nil
}

// --- DAS ---

func (r *ApuracaoRepository) CreateDAS(ctx context.Context, d *models.DAS) error {
	return r.db.WithContext(ctx).Create(d).Error
}

func (r *ApuracaoRepository) GetDASByID(ctx context.Context, id uuid.UUID) (*models.DAS, error) {
	cacheKey := dasCacheKey(id)

	if r.redis != nil {
		if val, err := r.redis.Get(ctx, cacheKey).Result(); err == nil {
			var cached models.DAS
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				cached.StatusEfetivo = cached.CalcularStatusEfetivo(time.Now())
				return &cached, nil
			}
		}
	}

	var d models.DAS
	err := r.db.WithContext(ctx).
		Preload("Detalhamento").
		First(&d, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(d); err == nil {
			r.redis.Set(ctx, cacheKey, data, DASCacheTTL)
		}
	}

	return &d, nil
}

func (r *ApuracaoRepository) ListDAS(ctx context.Context, tenantID string, status string, limit, offset int) ([]models.DAS, int64, error) {
	var docs []models.DAS
	var total int64

	query := r.db.WithContext(ctx).Model(&models.DAS{}).Where("tenant_id = ?", tenantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Detalhamento").
		Order("vencimento DESC").
		Limit(limit).
		Offset(offset).
		Find(&docs).Error

	return docs, total, err
}

// UpdateDASStatus applies a DAS transition under the same version guard used
// for apurações.
func (r *ApuracaoRepository) UpdateDASStatus(ctx context.Context, d *models.DAS, novo models.StatusDAS, updates map[string]interface{}) error {
	oldVersion := d.Version

	values := map[string]interface{}{
		"status":     novo,
		"version":    oldVersion + 1,
		"updated_at": time.Now(),
	}
	for k, v := range updates {
		values[k] = v
	}

	result := r.db.WithContext(ctx).Model(&models.DAS{}).
		Where("id = ? AND version = ?", d.ID, oldVersion).
		Updates(values)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	d.Status = novo
	d.StatusEfetivo = novo
	d.Version = oldVersion + 1
	r.invalidate(ctx, dasCacheKey(d.ID))
	return nil
}

// ListDASVencendo returns documents still gerado whose due date has passed;
// the vencimento job persists their derived state.
func (r *ApuracaoRepository) ListDASVencendo(ctx context.Context, limite time.Time) ([]models.DAS, error) {
	var docs []models.DAS
	err := r.db.WithContext(ctx).
		Where("status = ? AND vencimento < ?", models.StatusDASGerado, limite).
		Find(&docs).Error
	return docs, err
}
