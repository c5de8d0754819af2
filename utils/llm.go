package utils

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Reply sentiments returned by classification.
const (
	SentimentInterested    = "interested"
	SentimentMaybeLater    = "maybe_later"
	SentimentNotInterested = "not_interested"
	SentimentOutOfOffice   = "out_of_office"
	SentimentWrongPerson   = "wrong_person"
)

// DraftContext is the structured input for email generation.
type DraftContext struct {
	ContactName    string `json:"contact_name"`
	ContactCompany string `json:"contact_company"`
	ContactRole    string `json:"contact_role"`
	CampaignName   string `json:"campaign_name"`
	CampaignPitch  string `json:"campaign_pitch"`
	SenderName     string `json:"sender_name"`
	OutreachType   string `json:"outreach_type"`
	ParentBody     string `json:"parent_body,omitempty"`
}

// Draft is a generated email. The service either returns the full structure
// or fails outright; there are no partial results.
type Draft struct {
	Subject         string   `json:"subject"`
	SubjectVariants []string `json:"subject_variants"`
	BodyHTML        string   `json:"body_html"`
	BodyPlain       string   `json:"body_plain"`
	Hook            string   `json:"hook"`
	Tone            string   `json:"tone"`
	Score           float64  `json:"score"`
}

// Classification is the sentiment verdict for a reply.
type Classification struct {
	Sentiment      string `json:"sentiment"`
	SuggestedReply string `json:"suggested_reply"`
}

// TextService drafts outreach emails and classifies replies.
type TextService interface {
	DraftEmail(ctx context.Context, dc DraftContext) (*Draft, error)
	ClassifyReply(ctx context.Context, originalBody, replyBody string) (*Classification, error)
}

// OpenAITextService talks to an OpenAI-compatible chat completion endpoint.
type OpenAITextService struct {
	client *resty.Client
	model  string
}

func NewOpenAITextService(baseURL, apiKey, model string, timeout time.Duration) *OpenAITextService {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json")
	return &OpenAITextService{client: client, model: model}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const draftSystemPrompt = `You write short, personal B2B outreach emails. ` +
	`Respond with a JSON object: subject, subject_variants (array), body_html, ` +
	`body_plain, hook, tone, score (0-1 quality estimate).`

const classifySystemPrompt = `You classify replies to sales emails. Respond with a ` +
	`JSON object: sentiment (one of interested, maybe_later, not_interested, ` +
	`out_of_office, wrong_person) and suggested_reply.`

func (s *OpenAITextService) DraftEmail(ctx context.Context, dc DraftContext) (*Draft, error) {
	input, err := json.Marshal(dc)
	if err != nil {
		return nil, err
	}

	content, err := s.complete(ctx, draftSystemPrompt, string(input))
	if err != nil {
		return nil, fmt.Errorf("draft generation failed: %w", err)
	}

	var draft Draft
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return nil, fmt.Errorf("draft generation returned malformed JSON: %w", err)
	}
	if draft.Subject == "" || draft.BodyHTML == "" {
		return nil, fmt.Errorf("draft generation returned an incomplete result")
	}
	return &draft, nil
}

func (s *OpenAITextService) ClassifyReply(ctx context.Context, originalBody, replyBody string) (*Classification, error) {
	input, err := json.Marshal(map[string]string{
		"original": originalBody,
		"reply":    replyBody,
	})
	if err != nil {
		return nil, err
	}

	content, err := s.complete(ctx, classifySystemPrompt, string(input))
	if err != nil {
		return nil, fmt.Errorf("reply classification failed: %w", err)
	}

	var cls Classification
	if err := json.Unmarshal([]byte(content), &cls); err != nil {
		return nil, fmt.Errorf("reply classification returned malformed JSON: %w", err)
	}
	switch cls.Sentiment {
	case SentimentInterested, SentimentMaybeLater, SentimentNotInterested,
		SentimentOutOfOffice, SentimentWrongPerson:
	default:
		return nil, fmt.Errorf("reply classification returned unknown sentiment %q", cls.Sentiment)
	}
	return &cls, nil
}

func (s *OpenAITextService) complete(ctx context.Context, system, user string) (string, error) {
	var out chatResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: s.model,
			Messages: []chatMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
			ResponseFormat: map[string]string{"type": "json_object"},
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		if out.Error != nil {
			return "", fmt.Errorf("completion API error: %s", out.Error.Message)
		}
		return "", fmt.Errorf("completion API returned status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion API returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
