package models

import (
	"strings"

	"finreport/internal/apperr"
)

// TriggerAction selects a fixed prompt template instead of open-ended assembly.
type TriggerAction string

const (
	TriggerNone               TriggerAction = ""
	TriggerInitialAnalysis    TriggerAction = "initial_analysis"
	TriggerFinalReportPreview TriggerAction = "final_report_preview"
)

// FileRef points at an upload held by the file store.
type FileRef struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}

type ChatContext struct {
	ChatHistory                []ChatMessage     `json:"chat_history"`
	FileContent                *string           `json:"file_content,omitempty"`
	ExternalData               map[string]any    `json:"external_data,omitempty"`
	SelectedModules            []string          `json:"selected_modules,omitempty"`
	DateRangeForAnalysis       *string           `json:"date_range_for_analysis,omitempty"`
	ConfirmedSectionsForReport map[string]string `json:"confirmed_sections_for_report,omitempty"`
	UploadedFiles              []FileRef         `json:"uploaded_files,omitempty"`
	SelectedCoreDocuments      []string          `json:"selected_core_documents,omitempty"`
}

type ChatRequest struct {
	UserMessage   string        `json:"user_message"`
	TriggerAction TriggerAction `json:"trigger_action,omitempty"`
	Context       ChatContext   `json:"context"`
}

// Validate enforces the cross-field rules of a chat request.
func (r *ChatRequest) Validate() error {
	switch r.TriggerAction {
	case TriggerNone:
		if strings.TrimSpace(r.UserMessage) == "" {
			return apperr.New(apperr.KindValidation, "user_message is required")
		}
	case TriggerInitialAnalysis:
		var missing []string
		if blank(r.Context.FileContent) {
			missing = append(missing, "file_content")
		}
		if blank(r.Context.DateRangeForAnalysis) {
			missing = append(missing, "date_range_for_analysis")
		}
		if len(missing) > 0 {
			return apperr.Newf(apperr.KindValidation,
				"initial_analysis requires context.%s", strings.Join(missing, " and context."))
		}
	case TriggerFinalReportPreview:
		if r.Context.ConfirmedSectionsForReport == nil {
			return apperr.New(apperr.KindValidation,
				"final_report_preview requires context.confirmed_sections_for_report")
		}
	default:
		return apperr.Newf(apperr.KindValidation, "unsupported trigger_action %q", r.TriggerAction)
	}
	for i, msg := range r.Context.ChatHistory {
		switch msg.Role {
		case RoleUser, RoleAssistant, RoleSystem, RoleModel:
		default:
			return apperr.Newf(apperr.KindValidation, "chat_history[%d]: unsupported role %q", i, msg.Role)
		}
	}
	return nil
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
