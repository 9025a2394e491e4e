package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/castellan/paperweight/internal/archive"
	"github.com/castellan/paperweight/internal/common"
	"github.com/castellan/paperweight/internal/ledger"
	"github.com/castellan/paperweight/internal/provider"
	"github.com/castellan/paperweight/internal/reconcile"
)

// createArchiveClient builds the archive client from configuration.
// Shared by every command that talks to the archive.
func createArchiveClient() (*archive.Client, error) {
	token := viper.GetString("archive.token")
	if token == "" {
		token = os.Getenv("ARCHIVE_API_TOKEN")
	}

	client, err := archive.NewClient(archive.Config{
		BaseURL:           viper.GetString("archive.url"),
		Token:             token,
		Timeout:           viper.GetDuration("archive.timeout"),
		RequestsPerSecond: viper.GetFloat64("archive.rate_limit"),
	})
	if err != nil {
		return nil, common.NewUserError("archive connection is not configured; set archive.url and archive.token", err)
	}
	return client, nil
}

// providerConfig assembles the AI backend configuration from viper.
func providerConfig() provider.Config {
	backend := viper.GetString("ai.backend")
	if backend == "" {
		backend = "openai"
	}

	apiKey := viper.GetString("ai.api_key")
	if apiKey == "" {
		switch strings.ToLower(backend) {
		case "openai":
			apiKey = os.Getenv("OPENAI_API_KEY")
		case "azure":
			apiKey = os.Getenv("AZURE_OPENAI_API_KEY")
		}
	}

	return provider.Config{
		Backend:         backend,
		APIKey:          apiKey,
		Model:           viper.GetString("ai.model"),
		BaseURL:         viper.GetString("ai.base_url"),
		AzureEndpoint:   viper.GetString("ai.azure_endpoint"),
		AzureDeployment: viper.GetString("ai.azure_deployment"),
		AzureAPIVersion: viper.GetString("ai.azure_api_version"),
		Language:        viper.GetString("ai.language"),
		PromptTags:      viper.GetStringSlice("ai.prompt_tags"),
		UsePromptTags:   viper.GetBool("ai.use_prompt_tags"),
		CustomFields:    viper.GetStringSlice("ai.custom_fields"),
		Timeout:         viper.GetDuration("ai.timeout"),
		ContextLimit:    viper.GetInt("ai.context_limit"),
		Temperature:     viper.GetFloat64("ai.temperature"),
	}
}

// createAnalyzer builds the AI gateway from configuration.
func createAnalyzer() (provider.Analyzer, error) {
	analyzer, err := provider.New(providerConfig())
	if err != nil {
		return nil, common.NewUserError("AI backend is not configured correctly; check the ai.* settings", err)
	}
	return analyzer, nil
}

// openLedger opens the processing ledger database.
func openLedger() (*ledger.Store, error) {
	dbPath := viper.GetString("ledger.path")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = fmt.Sprintf("%s/.local/share/paperweight/ledger.db", home)
	}

	store, err := ledger.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger at %s: %w", dbPath, err)
	}
	return store, nil
}

// enrichmentFlags reads the per-feature enrichment toggles.
func enrichmentFlags() reconcile.Flags {
	viper.SetDefault("enrich.tagging", true)
	viper.SetDefault("enrich.title", true)
	viper.SetDefault("enrich.marker_tag", "ai-processed")

	return reconcile.Flags{
		Tagging:       viper.GetBool("enrich.tagging"),
		Correspondent: viper.GetBool("enrich.correspondent"),
		DocumentType:  viper.GetBool("enrich.document_type"),
		Title:         viper.GetBool("enrich.title"),
		CustomFields:  viper.GetBool("enrich.custom_fields"),
		MarkerTag:     viper.GetString("enrich.marker_tag"),
	}
}
