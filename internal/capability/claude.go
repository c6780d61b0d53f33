package capability

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/cost"
	"github.com/sells-group/digest-engine/internal/model"
	"github.com/sells-group/digest-engine/pkg/anthropic"
)

// Cost-tracking phases.
const (
	PhaseScreen   = "tier2"
	PhaseEvaluate = "tier3"
	PhaseEntities = "entities"
)

const (
	screenMaxTokens  = 1200
	evalMaxTokens    = 400
	entityMaxTokens  = 600
	evalBodyChars    = 4000
	entityBodyChars  = 3000
	maxLoggedPayload = 2048
)

// Claude implements Capability on the Anthropic Messages and Batches APIs.
type Claude struct {
	client  anthropic.Client
	cfg     config.AnthropicConfig
	tracker *cost.Tracker
	topics  []string
	context string
	poll    anthropic.PollOptions
}

// ClaudeOption customizes NewClaude.
type ClaudeOption func(*Claude)

// WithPollOptions overrides batch polling intervals.
func WithPollOptions(p anthropic.PollOptions) ClaudeOption {
	return func(c *Claude) { c.poll = p }
}

// NewClaude builds the capability. topics and editorial context are baked
// into the cached system prompts.
func NewClaude(client anthropic.Client, cfg config.AnthropicConfig, tracker *cost.Tracker, topics []string, editorial string, opts ...ClaudeOption) *Claude {
	c := &Claude{
		client:  client,
		cfg:     cfg,
		tracker: tracker,
		topics:  topics,
		context: editorial,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Claude) system(text string) []anthropic.SystemBlock {
	if c.cfg.PromptCache {
		return anthropic.BuildCachedSystemBlocks(text, "")
	}
	return []anthropic.SystemBlock{{Text: text}}
}

func zeroTemp() *float64 {
	t := 0.0
	return &t
}

func (c *Claude) record(phase, modelName string, isBatch bool, u anthropic.TokenUsage) {
	if c.tracker == nil {
		return
	}
	c.tracker.Record(phase, modelName, isBatch, model.TokenUsage{
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
	})
}

// ScreenBatch issues one Messages call for the whole batch.
func (c *Claude) ScreenBatch(ctx context.Context, reqs []ScreenRequest) ([]ScreenResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	user, err := screenUser(reqs)
	if err != nil {
		return nil, eris.Wrap(err, "capability: encode screen batch")
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       c.cfg.ScreenModel,
		MaxTokens:   int64(min(screenMaxTokens+100*len(reqs), max(c.cfg.MaxTokens, screenMaxTokens))),
		System:      c.system(screenSystem(c.topics, c.context)),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: zeroTemp(),
	})
	if err != nil {
		return nil, eris.Wrap(err, "capability: screen batch")
	}
	c.record(PhaseScreen, c.cfg.ScreenModel, false, resp.Usage)

	results, err := parseScreen(resp.Text(), reqs)
	if err != nil {
		logMalformed("screen", resp.Text(), err)
		return nil, err
	}
	return results, nil
}

// Evaluate issues one Messages call for a single candidate.
func (c *Claude) Evaluate(ctx context.Context, req EvalRequest) (EvalResult, error) {
	topics := req.Topics
	if len(topics) == 0 {
		topics = c.topics
	}
	editorial := req.Context
	if editorial == "" {
		editorial = c.context
	}

	resp, err := c.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     c.cfg.EvalModel,
		MaxTokens: evalMaxTokens,
		System:    c.system(evalSystem(topics, editorial, req.Dimensions)),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(evalUserPrompt, req.ID, req.Title, evalBodyChars, truncateRunes(req.Body, evalBodyChars)),
		}},
		Temperature: zeroTemp(),
	})
	if err != nil {
		return EvalResult{}, eris.Wrapf(err, "capability: evaluate %s", req.ID)
	}
	c.record(PhaseEvaluate, c.cfg.EvalModel, false, resp.Usage)

	res, err := parseEval(resp.Text(), req)
	if err != nil {
		logMalformed("evaluate", resp.Text(), err)
		return EvalResult{}, err
	}
	return res, nil
}

func (c *Claude) entityRequest(req EntityRequest) anthropic.MessageRequest {
	return anthropic.MessageRequest{
		Model:     c.cfg.EntityModel,
		MaxTokens: entityMaxTokens,
		System:    c.system(entitySystemPrompt),
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf(entityUserPrompt, req.Title, entityBodyChars, truncateRunes(req.Body, entityBodyChars)),
		}},
		Temperature: zeroTemp(),
	}
}

// ExtractEntities issues one Messages call for a single item.
func (c *Claude) ExtractEntities(ctx context.Context, req EntityRequest) (model.Entities, error) {
	resp, err := c.client.CreateMessage(ctx, c.entityRequest(req))
	if err != nil {
		return model.Entities{}, eris.Wrapf(err, "capability: extract entities %s", req.ID)
	}
	c.record(PhaseEntities, c.cfg.EntityModel, false, resp.Usage)

	ents, err := parseEntities(resp.Text())
	if err != nil {
		logMalformed("entities", resp.Text(), err)
		return model.Entities{}, err
	}
	return ents, nil
}

// ExtractEntitiesBatch submits every request as one Message Batch at the
// batch discount. When prompt caching is on, a primer request warms the
// cache first and its result is used for the first item.
func (c *Claude) ExtractEntitiesBatch(ctx context.Context, reqs []EntityRequest) (map[string]model.Entities, error) {
	out := make(map[string]model.Entities, len(reqs))
	if len(reqs) == 0 {
		return out, nil
	}

	rest := reqs
	if c.cfg.PromptCache {
		resp, err := anthropic.PrimerRequest(ctx, c.client, c.entityRequest(reqs[0]))
		if err != nil {
			zap.L().Warn("capability: entity primer failed, batch runs cold", zap.Error(err))
		} else {
			c.record(PhaseEntities, c.cfg.EntityModel, false, resp.Usage)
			if ents, perr := parseEntities(resp.Text()); perr == nil {
				out[reqs[0].ID] = ents
				rest = reqs[1:]
			}
		}
	}
	if len(rest) == 0 {
		return out, nil
	}

	items := make([]anthropic.BatchRequestItem, len(rest))
	for i, r := range rest {
		items[i] = anthropic.BatchRequestItem{
			CustomID: fmt.Sprintf("entities-%d", i),
			Params:   c.entityRequest(r),
		}
	}

	batch, err := c.client.CreateBatch(ctx, anthropic.BatchRequest{Requests: items})
	if err != nil {
		return out, eris.Wrap(err, "capability: create entity batch")
	}
	zap.L().Info("capability: entity batch submitted",
		zap.String("batch_id", batch.ID),
		zap.Int("requests", len(items)),
	)

	started := time.Now()
	batch, err = anthropic.PollBatch(ctx, c.client, batch.ID, c.poll)
	if err != nil {
		return out, eris.Wrap(err, "capability: poll entity batch")
	}
	iter, err := c.client.GetBatchResults(ctx, batch.ID)
	if err != nil {
		return out, eris.Wrap(err, "capability: get entity batch results")
	}
	results, err := anthropic.CollectBatchResults(iter)
	if err != nil {
		return out, eris.Wrap(err, "capability: collect entity batch results")
	}

	for i, r := range rest {
		resp, ok := results.Succeeded[fmt.Sprintf("entities-%d", i)]
		if !ok {
			continue
		}
		c.record(PhaseEntities, c.cfg.EntityModel, true, resp.Usage)
		ents, err := parseEntities(resp.Text())
		if err != nil {
			logMalformed("entities", resp.Text(), err)
			continue
		}
		out[r.ID] = ents
	}

	zap.L().Info("capability: entity batch complete",
		zap.String("batch_id", batch.ID),
		zap.Int("succeeded", len(results.Succeeded)),
		zap.Int("failed", len(results.Failed)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return out, nil
}

func logMalformed(op, raw string, err error) {
	zap.L().Warn("capability: malformed response",
		zap.String("op", op),
		zap.String("raw", truncateRunes(raw, maxLoggedPayload)),
		zap.Error(err),
	)
}
