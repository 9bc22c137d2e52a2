package mcpserver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maltedev/taobao-scraper/internal/link"
	"github.com/maltedev/taobao-scraper/internal/scraper"
	"github.com/maltedev/taobao-scraper/internal/session"
)

// Class is the error category reported to the calling agent.
type Class string

const (
	ClassInvalidInput   Class = "invalid_input"
	ClassNotInitialized Class = "not_initialized"
	ClassSessionClosed  Class = "session_closed"
	ClassLoginRequired  Class = "login_required"
	ClassShortLink      Class = "short_link_unresolved"
	ClassBusy           Class = "busy"
	ClassScrape         Class = "scrape_failed"
	ClassUnexpected     Class = "unexpected"
)

// Classify maps a tool failure to its category. An identifier miss on
// input that holds a short link counts as a short-link failure.
func Classify(err error, input string) Class {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return ClassInvalidInput
	case errors.Is(err, session.ErrNotInitialized):
		return ClassNotInitialized
	case errors.Is(err, session.ErrSessionClosed):
		return ClassSessionClosed
	case errors.Is(err, session.ErrLoginRequired), errors.Is(err, session.ErrLoginTimeout):
		return ClassLoginRequired
	case errors.Is(err, session.ErrBusy):
		return ClassBusy
	case errors.Is(err, link.ErrShortLinkUnresolved):
		return ClassShortLink
	case errors.Is(err, link.ErrIdentifierNotFound):
		if link.ContainsShortLink(input) {
			return ClassShortLink
		}
		return ClassInvalidInput
	case errors.Is(err, scraper.ErrNavigation), errors.Is(err, scraper.ErrPageStructure):
		return ClassScrape
	default:
		return ClassUnexpected
	}
}

const acceptedFormats = "**Accepted formats**:\n" +
	"- Product ID: '881280651752'\n" +
	"- Direct URL: 'https://detail.tmall.com/item.htm?id=881280651752'\n" +
	"- Short link: 'https://e.tb.cn/h.xxx'\n" +
	"- Share text: '【淘宝】product https://e.tb.cn/h.xxx'"

// GuidanceText renders err with next steps for its class.
func GuidanceText(class Class, err error) string {
	var b strings.Builder

	switch class {
	case ClassInvalidInput:
		fmt.Fprintf(&b, "**Error: Invalid input**\n\n%v\n\n%s", err, acceptedFormats)

	case ClassNotInitialized:
		b.WriteString("**Error: Browser not initialized**\n\n" +
			"Please call `taobao_initialize_login` first to set up the browser session.\n\n" +
			"**Steps**:\n" +
			"1. Call taobao_initialize_login\n" +
			"2. Complete login if required (scan QR code)\n" +
			"3. Call taobao_fetch_product_info again")

	case ClassSessionClosed:
		fmt.Fprintf(&b, "**Error: Browser session was closed**\n\n%v\n\n"+
			"The browser window was closed or crashed and the session has been reset.\n\n"+
			"**Steps**:\n"+
			"1. Call taobao_initialize_login to relaunch the browser\n"+
			"2. Call taobao_fetch_product_info again", err)

	case ClassLoginRequired:
		fmt.Fprintf(&b, "**Error: Login required**\n\n%v\n\n"+
			"Taobao redirected the product page to its login wall and the saved session could not be confirmed automatically.\n\n"+
			"**Please try**:\n"+
			"1. Call taobao_initialize_login again\n"+
			"2. Scan the QR code in the browser window (扫码登录)\n"+
			"3. Call taobao_fetch_product_info again", err)

	case ClassShortLink:
		fmt.Fprintf(&b, "**Error: Short link resolution failed**\n\n%v\n\n"+
			"**Possible causes**:\n"+
			"- Short link expired or invalid\n"+
			"- Network timeout during resolution\n"+
			"- Taobao blocked the resolution attempt\n\n"+
			"**Please try**:\n"+
			"1. Use the **full share text** (recommended): `【淘宝】product name https://e.tb.cn/h.xxx`\n"+
			"2. Get the direct product URL from the browser address bar\n"+
			"3. Use just the product ID (12-13 digits)\n\n%s", err, acceptedFormats)

	case ClassBusy:
		b.WriteString("**Error: Browser session busy**\n\n" +
			"Another product is being fetched with the shared browser session. " +
			"Wait for it to finish, then call taobao_fetch_product_info again.")

	case ClassScrape:
		fmt.Fprintf(&b, "**Error during scraping**\n\n%v\n\n"+
			"**Possible causes**:\n"+
			"- Login session expired - try calling taobao_initialize_login again\n"+
			"- Network timeout - check internet connection\n"+
			"- Page structure changed - scraper may need updates\n"+
			"- Product page unavailable or removed", err)

	default:
		fmt.Fprintf(&b, "**Unexpected error**\n\n"+
			"An unexpected error occurred while fetching product information.\n\n"+
			"**Error details**: %v\n\n"+
			"**Please try**:\n"+
			"- Restarting the MCP server\n"+
			"- Calling taobao_initialize_login again\n"+
			"- Verifying the product URL or ID is correct", err)
	}
	return b.String()
}

func initResultText(res *session.InitResult) string {
	switch res.Status {
	case session.StatusSuccess:
		return fmt.Sprintf("**Status**: ✅ %s\n\n%s\n\nYou can now use taobao_fetch_product_info to scrape products.", res.Status, res.Message)
	case session.StatusLoginRequired:
		return fmt.Sprintf("**Status**: %s\n\n%s\n\n"+
			"Please complete the login in the browser window. "+
			"The browser stays open; call taobao_initialize_login again once you are logged in, "+
			"then use taobao_fetch_product_info.", res.Status, res.Message)
	case session.StatusAlreadyInitialized:
		return fmt.Sprintf("**Status**: ℹ️ %s\n\n%s\n\nBrowser session is active. You can continue using taobao_fetch_product_info.", res.Status, res.Message)
	default:
		return fmt.Sprintf("**Status**: ⚠️ %s\n\n%s", res.Status, res.Message)
	}
}

func initFailureText(err error) string {
	return fmt.Sprintf("**Error during initialization**\n\n"+
		"Failed to initialize browser session.\n\n"+
		"**Error details**: %v\n\n"+
		"**Troubleshooting**:\n"+
		"- Ensure Playwright browsers are installed: `taobao-mcp install` or `playwright install chromium`\n"+
		"- Check that the browser profile directory is writable\n"+
		"- Verify no other browser instance is using the profile", err)
}
