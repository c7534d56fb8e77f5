package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=arm64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"

	"docparse-backend/internal/bootstrap"
	"docparse-backend/internal/shared/config"
	"docparse-backend/internal/shared/telemetry"
)

type runtime struct {
	app   *bootstrap.App
	proxy *ginadapter.GinLambdaV2
}

var loadRuntime = sync.OnceValues(func() (*runtime, error) {
	cfg := config.Load()
	telemetry.Configure(cfg.LogLevel)
	app, err := bootstrap.Build(cfg)
	if err != nil {
		return nil, err
	}
	return &runtime{app: app, proxy: ginadapter.NewV2(app.Router)}, nil
})

func handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	rt, err := loadRuntime()
	if err != nil {
		log.Printf("bootstrap error: %v", err)
		return events.APIGatewayV2HTTPResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"error":"bootstrap failed","code":"internal_error"}`,
			Headers:    map[string]string{"Content-Type": "application/json"},
		}, err
	}

	resp, err := rt.proxy.ProxyWithContext(ctx, req)
	// The sandbox is frozen once the handler returns, so image triggers
	// dispatched after the response must finish first.
	rt.app.Gateway.Wait()
	return resp, err
}

func main() {
	lambda.Start(handler)
}
