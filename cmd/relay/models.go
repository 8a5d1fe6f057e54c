package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/relay/internal/models"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage named models in the SQLite store",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ModelsDB == "" {
			return errors.New("--models-db (or RELAY_MODELS_DB) is required")
		}
		return nil
	},
}

var putModel models.NamedModel

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored model names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *models.SQLiteStore) error {
			names, err := store.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				m, _, err := store.GetModel(cmd.Context(), name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", name, m.ProviderOrDefault(), m.Model, m.BaseURL)
			}
			return nil
		})
	},
}

var modelsPutCmd = &cobra.Command{
	Use:   "put <name>",
	Short: "Add or replace a named model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *models.SQLiteStore) error {
			return store.PutModel(cmd.Context(), args[0], putModel)
		})
	},
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a named model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *models.SQLiteStore) error {
			deleted, err := store.DeleteModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return errors.Errorf("model %s not found", args[0])
			}
			return nil
		})
	},
}

var modelsImportCmd = &cobra.Command{
	Use:   "import <catalog-file>",
	Short: "Copy every model of a catalog file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := models.LoadCatalog(args[0])
		if err != nil {
			return err
		}
		return withStore(func(store *models.SQLiteStore) error {
			if err := store.ImportCatalog(cmd.Context(), catalog); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d models\n", len(catalog.Names()))
			return nil
		})
	},
}

func init() {
	f := modelsPutCmd.Flags()
	f.StringVar(&putModel.Provider, "provider", "", "Provider: custom, openai or anthropic")
	f.StringVar(&putModel.BaseURL, "base-url", "", "Provider base URL")
	f.StringVar(&putModel.APIKey, "api-key", "", "Provider API key")
	f.StringVar(&putModel.Model, "model", "", "Provider model id")

	modelsCmd.AddCommand(modelsListCmd, modelsPutCmd, modelsDeleteCmd, modelsImportCmd)
}

func withStore(fn func(store *models.SQLiteStore) error) error {
	store, err := models.NewSQLiteStore(cfg.ModelsDB)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
