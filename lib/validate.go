package lib

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AwsValidate resolves the caller identity and returns the account id. It is
// a pre-flight gate, never retried: a credential failure here is a
// configuration problem, not a transient one.
func AwsValidate(ctx context.Context, api stsAPI, region string) (string, error) {
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		Logger.Println("error:", err)
		return "", fmt.Errorf("aws credentials invalid: %w", err)
	}
	account := *out.Account
	Logger.Println("aws credentials valid, account:", account, "region:", region)
	return account, nil
}

func EnvValidate(required []string) error {
	var missing []string
	for _, name := range required {
		if os.Getenv(name) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		err := fmt.Errorf("missing environment variables: %s", strings.Join(missing, ", "))
		Logger.Println("error:", err)
		return err
	}
	return nil
}

// handlerFile maps a python handler like "lambda_function.lambda_handler" to
// the source file the package must contain.
func handlerFile(handler, runtime string) string {
	if !strings.HasPrefix(runtime, "python") {
		return ""
	}
	parts := strings.Split(handler, ".")
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts[:len(parts)-1], "/") + ".py"
}

// PackageValidate structurally checks the built archive: readable, non-empty,
// and containing the handler's source file.
func PackageValidate(path, handler, runtime string) error {
	reader, err := zip.OpenReader(path)
	if err != nil {
		Logger.Println("error:", err)
		return err
	}
	defer func() { _ = reader.Close() }()
	if len(reader.File) == 0 {
		err := fmt.Errorf("package is empty: %s", path)
		Logger.Println("error:", err)
		return err
	}
	want := handlerFile(handler, runtime)
	if want == "" {
		return nil
	}
	for _, f := range reader.File {
		if f.Name == want {
			return nil
		}
	}
	err = fmt.Errorf("package %s does not contain handler file %s", path, want)
	Logger.Println("error:", err)
	return err
}
