package training

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/replyflow/replyflow/internal/db"
	"github.com/replyflow/replyflow/internal/genai"
)

// Classifier produces a structured classification of an agent reply.
type Classifier interface {
	Chat(ctx context.Context, req genai.ChatRequest) (genai.ChatResult, error)
}

// KnowledgeSink receives learned fragments for retrieval indexing.
type KnowledgeSink interface {
	UpsertLearned(ctx context.Context, tenantID, category, question, answer string) error
}

// Extractor runs passive learning over agent replies: it classifies
// each reply, deduplicates against earlier fragments and keeps the
// per-category counters current. Extraction is best-effort and never
// blocks message delivery.
type Extractor struct {
	svc       *Service
	querier   db.Querier
	llm       Classifier
	knowledge KnowledgeSink
	logger    *slog.Logger
}

func NewExtractor(log *slog.Logger, svc *Service, querier db.Querier, llm Classifier, knowledge KnowledgeSink) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{
		svc:       svc,
		querier:   querier,
		llm:       llm,
		knowledge: knowledge,
		logger:    log.With(slog.String("service", "training.extractor")),
	}
}

type classification struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Reusable   bool    `json:"reusable"`
}

const classifySystem = `You analyze a customer-support exchange and decide whether the agent's reply contains reusable knowledge.
Respond with JSON only: {"category": one of ["faq","response_pattern","company_info","objection_handling","product_info"], "confidence": 0.0-1.0, "reusable": true|false}.
Set reusable to false for one-off, personal or context-bound replies.`

// ProcessAgentReply classifies one lead question / agent answer pair
// and, when confident enough, records it as learned content. Returns
// nil unless the training row itself cannot be updated.
func (e *Extractor) ProcessAgentReply(ctx context.Context, tenantID, question, answer string) error {
	st, err := e.svc.GetStatus(ctx, tenantID)
	if err != nil {
		return err
	}
	if st.Status != StatusLearning {
		return nil
	}
	if strings.TrimSpace(answer) == "" {
		return nil
	}

	cls, err := e.classify(ctx, question, answer)
	if err != nil {
		e.logger.Warn("classification failed, skipping reply",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !cls.Reusable || cls.Confidence < ConfidenceThreshold {
		return nil
	}
	if _, ok := categoryColumn[cls.Category]; !ok {
		e.logger.Warn("classifier returned unknown category",
			slog.String("tenant_id", tenantID),
			slog.String("category", cls.Category),
		)
		return nil
	}

	if err := e.store(ctx, tenantID, cls.Category, question, answer); err != nil {
		e.logger.Warn("failed to store learned content",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
	}
	return e.svc.RecordAnalyzed(ctx, tenantID, cls.Category)
}

func (e *Extractor) classify(ctx context.Context, question, answer string) (classification, error) {
	prompt := fmt.Sprintf("Lead: %s\nAgent: %s", question, answer)
	temperature := float32(0)
	res, err := e.llm.Chat(ctx, genai.ChatRequest{
		System:       classifySystem,
		UserText:     prompt,
		MaxTokens:    200,
		Temperature:  &temperature,
		JSONResponse: true,
	})
	if err != nil {
		return classification{}, err
	}
	var cls classification
	if err := json.Unmarshal([]byte(res.Text), &cls); err != nil {
		return classification{}, fmt.Errorf("decode classification: %w", err)
	}
	return cls, nil
}

// store deduplicates by fuzzy containment against same-category
// fragments: a repeat bumps the occurrence counter instead of adding
// a near-duplicate row.
func (e *Extractor) store(ctx context.Context, tenantID, category, question, answer string) error {
	existing, err := e.matchExisting(ctx, tenantID, category, answer)
	if err != nil {
		return err
	}
	if existing != "" {
		_, err = e.querier.Exec(ctx, `
			UPDATE learned_content
			SET occurrence_count = occurrence_count + 1,
			    effectiveness_score = LEAST(100, (occurrence_count + 1) * 10),
			    updated_at = now()
			WHERE id = $1`,
			existing,
		)
		if err != nil {
			return fmt.Errorf("bump learned content: %w", err)
		}
		return nil
	}

	_, err = e.querier.Exec(ctx, `
		INSERT INTO learned_content (tenant_id, content_type, question, answer)
		VALUES ($1, $2, $3, $4)`,
		tenantID, category, question, answer,
	)
	if err != nil {
		return fmt.Errorf("insert learned content: %w", err)
	}
	if e.knowledge != nil {
		if kerr := e.knowledge.UpsertLearned(ctx, tenantID, category, question, answer); kerr != nil {
			e.logger.Warn("knowledge index update failed",
				slog.String("tenant_id", tenantID),
				slog.String("error", kerr.Error()),
			)
		}
	}
	return nil
}

func (e *Extractor) matchExisting(ctx context.Context, tenantID, category, answer string) (string, error) {
	rows, err := e.querier.Query(ctx, `
		SELECT id, answer FROM learned_content
		WHERE tenant_id = $1 AND content_type = $2
		ORDER BY updated_at DESC
		LIMIT 50`,
		tenantID, category,
	)
	if err != nil {
		return "", fmt.Errorf("list learned content: %w", err)
	}
	defer rows.Close()

	needle := normalizeText(answer)
	for rows.Next() {
		var id, stored string
		if err := rows.Scan(&id, &stored); err != nil {
			return "", fmt.Errorf("scan learned content: %w", err)
		}
		if similarText(needle, normalizeText(stored)) {
			return id, nil
		}
	}
	if err := rows.Err(); err != nil && err != pgx.ErrNoRows {
		return "", err
	}
	return "", nil
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// similarText treats two fragments as the same knowledge when either
// normalized form contains the other.
func similarText(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
