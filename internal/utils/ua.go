package utils

import (
	"fmt"

	"github.com/mssola/useragent"
)

// ClearanceUserAgent reduces a browser UA string to the stable parts a
// clearance token may be bound to. Point releases bump the full UA
// string constantly; binding to the parsed platform/engine/browser keeps
// the fingerprint stable across them while still separating clients.
func ClearanceUserAgent(inputUA string) string {
	if len(inputUA) < 8 || inputUA[:8] != "Mozilla/" {
		return inputUA
	}

	ua := useragent.New(inputUA)
	engine, engineVersion := ua.Engine()
	browser, browserVersion := ua.Browser()

	return fmt.Sprintf("Mozilla:%v,Model:%v,Platform:%v,OS:%v,Engine:%v,EngineVersion:%v,Browser:%v,BrowserVersion:%v",
		ua.Mozilla(), ua.Model(), ua.Platform(), ua.OS(), engine, engineVersion, browser, browserVersion)
}
