package repo

import (
	"context"
	"fmt"
	"strings"

	"videoagent/internal/model"
)

// GetPreferences returns the singleton runtime/LLM preferences row, seeded
// at startup by the schema migration.
func (r *Repo) GetPreferences(ctx context.Context) (*model.Preferences, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT llm_provider, llm_model, llm_temperature, llm_max_tokens, llm_output_language,
			runtime_profile, asr_max, llm_max, heavy_max, llm_timeout_seconds,
			asr_device, asr_compute_type, asr_model
		FROM preferences WHERE id = 1`)

	var p model.Preferences
	if err := row.Scan(&p.LLMProvider, &p.LLMModel, &p.LLMTemperature, &p.LLMMaxTokens, &p.LLMOutputLanguage,
		&p.RuntimeProfile, &p.ASRMax, &p.LLMMax, &p.HeavyMax, &p.LLMTimeoutSeconds,
		&p.ASRDevice, &p.ASRComputeType, &p.ASRModel); err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return &p, nil
}

// PreferencesUpdate carries only the fields the caller wants to change;
// nil fields are left untouched.
type PreferencesUpdate struct {
	LLMProvider       *string
	LLMModel          *string
	LLMTemperature    *float64
	LLMMaxTokens      *int
	LLMOutputLanguage *string
	RuntimeProfile    *string
	ASRMax            *int
	LLMMax            *int
	HeavyMax          *int
	LLMTimeoutSeconds *int
	ASRDevice         *string
	ASRComputeType    *string
	ASRModel          *string
}

// UpdatePreferences applies a partial update to the singleton row.
func (r *Repo) UpdatePreferences(ctx context.Context, u PreferencesUpdate) error {
	var sets []string
	var args []any

	if u.LLMProvider != nil {
		sets = append(sets, "llm_provider = ?")
		args = append(args, *u.LLMProvider)
	}
	if u.LLMModel != nil {
		sets = append(sets, "llm_model = ?")
		args = append(args, *u.LLMModel)
	}
	if u.LLMTemperature != nil {
		sets = append(sets, "llm_temperature = ?")
		args = append(args, *u.LLMTemperature)
	}
	if u.LLMMaxTokens != nil {
		sets = append(sets, "llm_max_tokens = ?")
		args = append(args, *u.LLMMaxTokens)
	}
	if u.LLMOutputLanguage != nil {
		sets = append(sets, "llm_output_language = ?")
		args = append(args, *u.LLMOutputLanguage)
	}
	if u.RuntimeProfile != nil {
		sets = append(sets, "runtime_profile = ?")
		args = append(args, *u.RuntimeProfile)
	}
	if u.ASRMax != nil {
		sets = append(sets, "asr_max = ?")
		args = append(args, *u.ASRMax)
	}
	if u.LLMMax != nil {
		sets = append(sets, "llm_max = ?")
		args = append(args, *u.LLMMax)
	}
	if u.HeavyMax != nil {
		sets = append(sets, "heavy_max = ?")
		args = append(args, *u.HeavyMax)
	}
	if u.LLMTimeoutSeconds != nil {
		sets = append(sets, "llm_timeout_seconds = ?")
		args = append(args, *u.LLMTimeoutSeconds)
	}
	if u.ASRDevice != nil {
		sets = append(sets, "asr_device = ?")
		args = append(args, *u.ASRDevice)
	}
	if u.ASRComputeType != nil {
		sets = append(sets, "asr_compute_type = ?")
		args = append(args, *u.ASRComputeType)
	}
	if u.ASRModel != nil {
		sets = append(sets, "asr_model = ?")
		args = append(args, *u.ASRModel)
	}

	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE preferences SET %s WHERE id = 1", strings.Join(sets, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}
