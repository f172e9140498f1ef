package cli

import (
	"os"

	"github.com/spf13/cobra"

	"catalog.evalgo.org/common"
	"catalog.evalgo.org/internal/model"
	"catalog.evalgo.org/storage"
)

var (
	checkBucket    string
	checkRegion    string
	checkEndpoint  string
	checkCredsFile string
)

// checkStorageCmd validates a storage profile the same way warehouse
// creation does, without touching the catalog. Useful before onboarding a
// new bucket.
var checkStorageCmd = &cobra.Command{
	Use:   "check-storage",
	Short: "validate a storage profile against the object store",
	RunE: func(cmd *cobra.Command, args []string) error {
		var creds []byte
		if checkCredsFile != "" {
			var err error
			creds, err = os.ReadFile(checkCredsFile)
			if err != nil {
				return err
			}
		}

		props := map[string]string{"bucket": checkBucket}
		if checkRegion != "" {
			props["region"] = checkRegion
		}
		if checkEndpoint != "" {
			props["endpoint"] = checkEndpoint
		}

		validator := storage.NewS3Validator()
		normalized, err := validator.Validate(cmd.Context(), model.StorageProfile{
			Kind:       "s3",
			Properties: props,
		}, creds)
		if err != nil {
			return err
		}
		common.Logger.WithField("bucket", normalized.Properties[storage.PropBucket]).
			Info("storage profile is valid")
		return nil
	},
}

func init() {
	checkStorageCmd.Flags().StringVar(&checkBucket, "bucket", "", "bucket to validate")
	checkStorageCmd.Flags().StringVar(&checkRegion, "region", "", "bucket region")
	checkStorageCmd.Flags().StringVar(&checkEndpoint, "endpoint", "", "custom S3 endpoint (MinIO, gateways)")
	checkStorageCmd.Flags().StringVar(&checkCredsFile, "credentials-file", "", "JSON file with access-key/secret-key")
	_ = checkStorageCmd.MarkFlagRequired("bucket")
	RootCmd.AddCommand(checkStorageCmd)
}
