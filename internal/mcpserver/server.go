// Package mcpserver exposes the scraper as MCP tools over stdio or
// streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/maltedev/taobao-scraper/internal/images"
	"github.com/maltedev/taobao-scraper/internal/metrics"
	"github.com/maltedev/taobao-scraper/internal/models"
	"github.com/maltedev/taobao-scraper/internal/response"
	"github.com/maltedev/taobao-scraper/internal/scraper"
	"github.com/maltedev/taobao-scraper/internal/session"
)

const (
	ToolInitializeLogin = "taobao_initialize_login"
	ToolFetchProduct    = "taobao_fetch_product_info"

	MaxInputLength = 500
)

var ErrInvalidInput = errors.New("invalid input")

type Initializer interface {
	Initialize(ctx context.Context) (*session.InitResult, error)
}

type Scraper interface {
	Scrape(ctx context.Context, input string, opts scraper.Options) (*models.Product, error)
}

type Assembler interface {
	Assemble(ctx context.Context, p *models.Product, offset, limit int, includeInfo bool) []response.Block
}

type Dependencies struct {
	Sessions  Initializer
	Scraper   Scraper
	Assembler Assembler
	Metrics   *metrics.Metrics
}

type Server struct {
	deps    Dependencies
	server  *mcp.Server
	logger  *slog.Logger
	version string
}

func New(deps Dependencies, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:    deps,
		logger:  logger.With("component", "mcp"),
		version: version,
	}

	s.server = mcp.NewServer(&mcp.Implementation{Name: "taobao-mcp", Version: version}, nil)
	s.server.AddTool(initializeLoginTool(), s.handleInitializeLogin)
	s.server.AddTool(fetchProductTool(), s.handleFetchProduct)
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// RunStdio serves the tools on stdin/stdout until ctx is done or the client
// disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("serving MCP over stdio", "version", s.version)
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler serves the same tools over the streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// FetchRequest is the validated argument set of the fetch tool.
type FetchRequest struct {
	Input       string
	Offset      int
	Limit       int
	IncludeInfo bool
}

type fetchArgs struct {
	ProductURLOrID *string `json:"product_url_or_id"`
	Offset         *int    `json:"offset"`
	Limit          *int    `json:"limit"`
	IncludeInfo    *bool   `json:"include_info"`
}

// ParseFetchArgs validates raw tool arguments. Every failure wraps
// ErrInvalidInput.
func ParseFetchArgs(raw json.RawMessage) (FetchRequest, error) {
	req := FetchRequest{Limit: images.DefaultLimit}

	var args fetchArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return req, fmt.Errorf("%w: malformed arguments: %v", ErrInvalidInput, err)
		}
	}

	if args.ProductURLOrID == nil {
		return req, fmt.Errorf("%w: product_url_or_id is required", ErrInvalidInput)
	}
	input := strings.TrimSpace(*args.ProductURLOrID)
	if input == "" {
		return req, fmt.Errorf("%w: product_url_or_id cannot be empty", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(*args.ProductURLOrID); n > MaxInputLength {
		return req, fmt.Errorf("%w: product_url_or_id is %d characters, at most %d allowed", ErrInvalidInput, n, MaxInputLength)
	}
	req.Input = input

	if args.Offset != nil {
		if *args.Offset < 0 {
			return req, fmt.Errorf("%w: offset must be >= 0, got %d", ErrInvalidInput, *args.Offset)
		}
		req.Offset = *args.Offset
	}
	if args.Limit != nil {
		if *args.Limit < 1 || *args.Limit > images.MaxLimit {
			return req, fmt.Errorf("%w: limit must be between 1 and %d, got %d", ErrInvalidInput, images.MaxLimit, *args.Limit)
		}
		req.Limit = *args.Limit
	}
	if args.IncludeInfo != nil {
		req.IncludeInfo = *args.IncludeInfo
	}
	return req, nil
}

func (s *Server) handleInitializeLogin(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()

	res, err := s.deps.Sessions.Initialize(ctx)
	if err != nil {
		s.logger.Error("session initialization failed", "error", err)
		s.deps.Metrics.IncToolCall(ToolInitializeLogin, "error")
		return errorResult(initFailureText(err)), nil
	}

	s.logger.Info("session initialized", "status", res.Status, "duration", time.Since(start))
	s.deps.Metrics.IncToolCall(ToolInitializeLogin, string(res.Status))
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: initResultText(res)}},
		IsError: res.Status == session.StatusError,
	}, nil
}

func (s *Server) handleFetchProduct(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var raw json.RawMessage
	if req != nil && req.Params != nil {
		raw = req.Params.Arguments
	}

	args, err := ParseFetchArgs(raw)
	if err != nil {
		return s.fail(err, ""), nil
	}

	logger := s.logger.With("offset", args.Offset, "limit", args.Limit)
	logger.Info("fetching product", "input", args.Input)

	product, err := s.deps.Scraper.Scrape(ctx, args.Input, scraper.Options{})
	if err != nil {
		return s.fail(err, args.Input), nil
	}

	blocks := s.deps.Assembler.Assemble(ctx, product, args.Offset, args.Limit, args.IncludeInfo)
	s.deps.Metrics.IncToolCall(ToolFetchProduct, "success")
	logger.Info("product delivered", "product_id", product.ProductID, "blocks", len(blocks))

	return &mcp.CallToolResult{Content: toContent(blocks)}, nil
}

func (s *Server) fail(err error, input string) *mcp.CallToolResult {
	class := Classify(err, input)
	s.logger.Warn("fetch failed", "class", class, "error", err)
	s.deps.Metrics.IncToolCall(ToolFetchProduct, string(class))
	return errorResult(GuidanceText(class, err))
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}

func toContent(blocks []response.Block) []mcp.Content {
	out := make([]mcp.Content, 0, len(blocks))
	for _, b := range blocks {
		switch b.Kind {
		case response.KindImage:
			out = append(out, &mcp.ImageContent{Data: b.Data, MIMEType: b.MIMEType})
		default:
			out = append(out, &mcp.TextContent{Text: b.Text})
		}
	}
	return out
}

func initializeLoginTool() *mcp.Tool {
	return &mcp.Tool{
		Name: ToolInitializeLogin,
		Description: "REQUIRED FIRST STEP. Initialize the Taobao/Tmall (淘宝/天猫) browser session and check login.\n\n" +
			"Launches a persistent browser profile, opens the Taobao home page and reports whether the saved login is still valid. " +
			"If login is required, scan the QR code (扫码登录) in the browser window and call this tool again.\n\n" +
			"Call once per session, before taobao_fetch_product_info. Takes no parameters.\n\n" +
			"Returns a status of success, login_required, already_initialized or error with next steps.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}
}

func fetchProductTool() *mcp.Tool {
	return &mcp.Tool{
		Name: ToolFetchProduct,
		Description: "Fetch a Taobao/Tmall (淘宝/天猫) product and return its information with product images.\n\n" +
			"Accepted input: full share text (recommended), a 12-13 digit product ID, a detail page URL, or an e.tb.cn short link.\n\n" +
			"The first page (offset 0) starts with title, price, store, parameters and image counts, followed by pagination details " +
			"and up to `limit` images in order: gallery, detail, SKU variant, review photos. Use next_offset from the pagination " +
			"text to page through the rest; set include_info to repeat the product summary on later pages.\n\n" +
			"Requires taobao_initialize_login first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"product_url_or_id": map[string]any{
					"type":        "string",
					"minLength":   1,
					"maxLength":   MaxInputLength,
					"description": "Product ID ('881280651752'), direct URL ('https://detail.tmall.com/item.htm?id=881280651752'), short link ('https://e.tb.cn/h.xxx') or share text containing one of them.",
				},
				"offset": map[string]any{
					"type":        "integer",
					"minimum":     0,
					"default":     0,
					"description": "Index of the first image to return.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     images.MaxLimit,
					"default":     images.DefaultLimit,
					"description": "Number of images to return.",
				},
				"include_info": map[string]any{
					"type":        "boolean",
					"default":     false,
					"description": "Repeat the product summary on pages after the first.",
				},
			},
			"required": []string{"product_url_or_id"},
		},
	}
}
