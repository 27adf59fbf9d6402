//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/34892002/3000World/internal/config"
	"github.com/34892002/3000World/internal/logging"
	"github.com/34892002/3000World/internal/store"
	"github.com/34892002/3000World/pkg/datalayer"
	"github.com/34892002/3000World/pkg/embedding"
	"github.com/34892002/3000World/pkg/repo"
	"github.com/34892002/3000World/pkg/worldbook"
)

const Version = "1.0.0"

// Global state
var layer *datalayer.DataLayer

func main() {
	fmt.Println("[3000World] WASM Ready v" + Version)

	js.Global().Set("ThreeWorld", js.ValueOf(map[string]interface{}{
		"version":    js.FuncOf(getVersion),
		"initialize": js.FuncOf(initialize),
		// Worlds
		"listWorlds":          promised(listWorlds),
		"connect":             promised(connect),
		"disconnect":          promised(disconnect),
		"currentWorld":        js.FuncOf(currentWorld),
		"isConnected":         js.FuncOf(isConnected),
		"syncConnectionState": js.FuncOf(syncConnectionState),
		"deleteWorld":         promised(deleteWorld),
		"status":              js.FuncOf(status),
		"clearError":          js.FuncOf(clearError),
		"refresh":             promised(refresh),
		// Characters
		"saveCharacter":       promised(saveCharacter),
		"getCharacter":        promised(getCharacter),
		"deleteCharacter":     promised(deleteCharacter),
		"listCharacters":      js.FuncOf(listCharacters),
		"playerCharacter":     js.FuncOf(playerCharacter),
		"availableCharacters": js.FuncOf(availableCharacters),
		// Groups
		"saveGroup":       promised(saveGroup),
		"getGroup":        promised(getGroup),
		"deleteGroup":     promised(deleteGroup),
		"listGroups":      js.FuncOf(listGroups),
		"groupCharacters": js.FuncOf(groupCharacters),
		// Worldbooks
		"saveWorldbook":       promised(saveWorldbook),
		"getWorldbook":        promised(getWorldbook),
		"deleteWorldbook":     promised(deleteWorldbook),
		"listWorldbooks":      js.FuncOf(listWorldbooks),
		"triggeredWorldbooks": js.FuncOf(triggeredWorldbooks),
		"suggestKeywords":     js.FuncOf(suggestKeywords),
		// Config
		"getConfig":  js.FuncOf(getConfig),
		"saveConfig": promised(saveConfig),
		// Chat
		"saveMessage":       promised(saveMessage),
		"chatHistory":       promised(chatHistory),
		"chatSessions":      promised(chatSessions),
		"deleteChatSession": promised(deleteChatSession),
		// Memory
		"initVectorDB": promised(initVectorDB),
		"recall":       promised(recall),
		"reindex":      promised(reindex),
		// Transfer
		"exportWorld": promised(exportWorld),
		"importWorld": promised(importWorld),
		// Replies
		"generateReply": promised(generateReply),
	}))

	// Keep running
	select {}
}

func getVersion(this js.Value, args []js.Value) interface{} {
	return Version
}

// Helper: Create error result
func errorResult(msg string) interface{} {
	jsonBytes, _ := json.Marshal(map[string]interface{}{"error": msg})
	return string(jsonBytes)
}

// Helper: Create success result
func successResult(msg string) interface{} {
	jsonBytes, _ := json.Marshal(map[string]interface{}{"success": msg})
	return string(jsonBytes)
}

func jsonResult(v interface{}) interface{} {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return errorResult(err.Error())
	}
	return string(jsonBytes)
}

// makePromise creates a JS Promise and returns it along with resolve/reject functions.
func makePromise() (promise js.Value, resolve js.Value, reject js.Value) {
	var resolveFn, rejectFn js.Value
	handler := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolveFn = args[0]
		rejectFn = args[1]
		return nil
	})
	defer handler.Release()

	promise = js.Global().Get("Promise").New(handler)
	return promise, resolveFn, rejectFn
}

// promised wraps a blocking call as a Promise-returning JS function. The
// result is resolved as a JSON string; errors reject with an Error.
func promised(fn func(ctx context.Context, args []js.Value) (interface{}, error)) js.Func {
	return js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		promise, resolve, reject := makePromise()
		go func() {
			if layer == nil {
				reject.Invoke(js.Global().Get("Error").New("data layer not initialized (call initialize first)"))
				return
			}
			out, err := fn(context.Background(), args)
			if err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			jsonBytes, err := json.Marshal(out)
			if err != nil {
				reject.Invoke(js.Global().Get("Error").New(err.Error()))
				return
			}
			resolve.Invoke(string(jsonBytes))
		}()
		return promise
	})
}

func argString(args []js.Value, i int) string {
	if i >= len(args) || args[i].IsUndefined() || args[i].IsNull() {
		return ""
	}
	return args[i].String()
}

func argJSON(args []js.Value, i int, v interface{}) error {
	s := argString(args, i)
	if s == "" {
		return fmt.Errorf("argument %d: JSON required", i)
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("argument %d: invalid json: %w", i, err)
	}
	return nil
}

// =============================================================================
// Setup
// =============================================================================

// initOptions is the page-supplied configuration.
type initOptions struct {
	Embedding struct {
		Provider string `json:"provider"`
		BaseURL  string `json:"baseUrl"`
		Model    string `json:"model"`
		APIKey   string `json:"apiKey"`
	} `json:"embedding"`
	Memory struct {
		Enabled *bool `json:"enabled"`
		TopK    int   `json:"topK"`
	} `json:"memory"`
	DropEmptyGroups bool   `json:"dropEmptyGroups"`
	LogLevel        string `json:"logLevel"`
}

// initialize builds the data layer. Args: [optionsJSON string, optional]
func initialize(this js.Value, args []js.Value) interface{} {
	var opts initOptions
	if argString(args, 0) != "" {
		if err := argJSON(args, 0, &opts); err != nil {
			return errorResult("initialize: " + err.Error())
		}
	}
	if layer != nil {
		layer.Close()
	}

	cfg := config.DefaultConfig()
	cfg.Groups.DropEmpty = opts.DropEmptyGroups
	if opts.Memory.Enabled != nil {
		cfg.Memory.Enabled = *opts.Memory.Enabled
	}
	if opts.Memory.TopK > 0 {
		cfg.Memory.RecallTopK = opts.Memory.TopK
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	var emb embedding.Embedder
	switch opts.Embedding.Provider {
	case "mock":
		emb = embedding.NewMock(cfg.Embedding.Dimension)
	default:
		baseURL, model := cfg.Embedding.BaseURL, cfg.Embedding.Model
		if opts.Embedding.BaseURL != "" {
			baseURL = opts.Embedding.BaseURL
		}
		if opts.Embedding.Model != "" {
			model = opts.Embedding.Model
		}
		emb = embedding.NewOpenAI(opts.Embedding.APIKey, baseURL, model)
	}

	catalog := newMemCatalog(cfg.Storage.WorldPrefix)
	var err error
	layer, err = datalayer.New(cfg,
		datalayer.WithLogger(logging.New(nil, cfg.Logging.Level)),
		datalayer.WithEmbedder(emb),
		datalayer.WithCatalog(catalog),
		datalayer.WithOpener(catalog.open),
	)
	if err != nil {
		return errorResult("initialize: " + err.Error())
	}
	fmt.Println("[3000World] ✅ Data layer initialized")
	return successResult("initialized")
}

// =============================================================================
// Worlds
// =============================================================================

func listWorlds(ctx context.Context, args []js.Value) (interface{}, error) {
	return layer.ListWorlds()
}

// Args: [name string]
func connect(ctx context.Context, args []js.Value) (interface{}, error) {
	if err := layer.Connect(ctx, argString(args, 0)); err != nil {
		return nil, err
	}
	return map[string]interface{}{"connected": true, "vectors": layer.VectorState().String()}, nil
}

func disconnect(ctx context.Context, args []js.Value) (interface{}, error) {
	layer.WaitVectors()
	return true, layer.Disconnect()
}

func currentWorld(this js.Value, args []js.Value) interface{} {
	if layer == nil {
		return js.Null()
	}
	if name, ok := layer.CurrentWorld(); ok {
		return name
	}
	return js.Null()
}

func isConnected(this js.Value, args []js.Value) interface{} {
	return layer != nil && layer.IsConnected()
}

func syncConnectionState(this js.Value, args []js.Value) interface{} {
	return layer != nil && layer.SyncConnectionState()
}

// Args: [name string]
func deleteWorld(ctx context.Context, args []js.Value) (interface{}, error) {
	return true, layer.DeleteWorld(argString(args, 0))
}

func status(this js.Value, args []js.Value) interface{} {
	if layer == nil {
		return errorResult("data layer not initialized")
	}
	out := map[string]interface{}{"loading": layer.Loading(), "error": nil}
	if err := layer.Err(); err != nil {
		out["error"] = err.Error()
	}
	return jsonResult(out)
}

func clearError(this js.Value, args []js.Value) interface{} {
	if layer != nil {
		layer.ClearError()
	}
	return nil
}

func refresh(ctx context.Context, args []js.Value) (interface{}, error) {
	return true, layer.Refresh(ctx)
}

// =============================================================================
// Collections
// =============================================================================

// Args: [characterJSON string]
func saveCharacter(ctx context.Context, args []js.Value) (interface{}, error) {
	var c store.Character
	if err := argJSON(args, 0, &c); err != nil {
		return nil, err
	}
	if _, err := layer.Characters().Save(ctx, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func getCharacter(ctx context.Context, args []js.Value) (interface{}, error) {
	return layer.Characters().GetByID(ctx, argString(args, 0))
}

func deleteCharacter(ctx context.Context, args []js.Value) (interface{}, error) {
	return true, layer.Characters().Delete(ctx, argString(args, 0))
}

func listCharacters(this js.Value, args []js.Value) interface{} {
	if layer == nil {
		return errorResult("data layer not initialized")
	}
	return jsonResult(layer.Characters().All())
}

func playerCharacter(this js.Value, args []js.Value) interface{} {
	if layer == nil {
		return errorResult("data layer not initialized")
	}
	return jsonResult(layer.Characters().PlayerCharacter())
}

func availableCharacters(this js.Value, args []js.Value) interface{} {
	if layer == nil {
		return errorResult("data layer not initialized")
	}
	return jsonResult(layer.Characters().AvailableCharacters())
}

// Args: [groupJSON string]
func saveGroup(ctx context.Context, args []js.Value) (interface{}, error) {
	var g store.Group
	if err := argJSON(args, 0, &g); err != nil {
		return nil, err
	}
	if _, err := layer.Groups().Save(ctx, &g); err != nil {
		return nil, err
	}
	return g, nil
}

func getGroup(ctx context.Context, args []js.Value) (interface{}, error) {
	return layer.Groups().GetByID(ctx, argString(args, 0))
}

func deleteGroup(ctx context.Context, args []js.Value) (interface{}, error) {
	return true, layer.Groups().Delete(ctx, argString(args, 0))
}

func listGroups(this js.Value, args []js.Value) interface{} {
	if layer == nil {
		return errorResult("data layer not initialized")
	}
	return jsonResult(layer.Groups().All())
}

// Args: [groupID string]
func groupCharacters(this js.Value, args []js.Value) interface{} {
	if layer == nil {
		return errorResult("data layer not initialized")
	}
	return jsonResult(layer.Groups().GroupCharacters(argString(args, 0)))
}

// Args: [entryJSON string]
func saveWorldbook(ctx context.Context, args []js.Value) (interface{}, error) {
	var e store.WorldbookEntry
	if err := argJSON(args, 0, &e); err != nil {
		return nil, err
	}
	if _, err := layer.Worldbooks().Save(ctx, &e); err != nil {
		return nil, err
	}
	return e, nil
}

func getWorldbook(ctx context.Context, args []js.Value) (interface{}, error) {
	return layer.Worldbooks().GetByID(ctx, argString(args, 0))
}

func deleteWorldbook(ctx context.Context, args []js.Value) (interface{}, error) {
	return true, layer.Worldbooks().Delete(ctx, argString(args, 0))
}

func listWorldbooks(this js.Value, args []js.Value) interface{} {
	if layer == nil {
		return errorResult("data layer not initialized")
	}
	return jsonResult(layer.Worldbooks().All())
}

// Args: [text string]
func triggeredWorldbooks(this js.Value, args []js.Value) interface{} {
	if layer == nil {
		return errorResult("data layer not initialized")
	}
	return jsonResult(layer.TriggeredWorldbooks(argString(args, 0)))
}

// Args: [content string, n int]
func suggestKeywords(this js.Value, args []js.Value) interface{} {
	n := 8
	if len(args) > 1 && args[1].Type() == js.TypeNumber {
		n = args[1].Int()
	}
	return jsonResult(worldbook.SuggestKeywords(argString(args, 0), n))
}

func getConfig(this js.Value, args []js.Value) interface{} {
	if layer == nil {
		return errorResult("data layer not initialized")
	}
	return jsonResult(layer.Config().Get())
}

// Args: [patchJSON string] - only the fields present are changed
func saveConfig(ctx context.Context, args []js.Value) (interface{}, error) {
	var patch repo.ConfigPatch
	if err := argJSON(args, 0, &patch); err != nil {
		return nil, err
	}
	return layer.Config().Save(ctx, patch)
}

// =============================================================================
// Chat
// =============================================================================

// Args: [messageJSON string]
func saveMessage(ctx context.Context, args []js.Value) (interface{}, error) {
	var m store.ChatMessage
	if err := argJSON(args, 0, &m); err != nil {
		return nil, err
	}
	if _, err := layer.Chat().Save(ctx, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Args: [sessionID string]
func chatHistory(ctx context.Context, args []js.Value) (interface{}, error) {
	return layer.Chat().Get(ctx, argString(args, 0))
}

func chatSessions(ctx context.Context, args []js.Value) (interface{}, error) {
	return layer.Chat().Sessions(ctx)
}

// Args: [sessionID string]
func deleteChatSession(ctx context.Context, args []js.Value) (interface{}, error) {
	return true, layer.Chat().DeleteSession(ctx, argString(args, 0))
}

// =============================================================================
// Memory
// =============================================================================

func initVectorDB(ctx context.Context, args []js.Value) (interface{}, error) {
	return layer.InitVectorDB(ctx).String(), nil
}

// Args: [text string, k int, sessionID string]
func recall(ctx context.Context, args []js.Value) (interface{}, error) {
	k := 0
	if len(args) > 1 && args[1].Type() == js.TypeNumber {
		k = args[1].Int()
	}
	return layer.Recall(ctx, argString(args, 0), k, argString(args, 2))
}

// Args: [onProgress function(done, total), optional]
func reindex(ctx context.Context, args []js.Value) (interface{}, error) {
	var progress func(done, total int)
	if len(args) > 0 && args[0].Type() == js.TypeFunction {
		cb := args[0]
		progress = func(done, total int) { cb.Invoke(done, total) }
	}
	return layer.Reindex(ctx, progress)
}

// =============================================================================
// Transfer
// =============================================================================

// exportWorld resolves with the document itself (a JSON string).
// Args: [name string]
func exportWorld(ctx context.Context, args []js.Value) (interface{}, error) {
	data, err := layer.ExportWorld(ctx, argString(args, 0))
	if err != nil {
		return nil, err
	}
	fmt.Printf("[3000World] ✅ Exported %d bytes\n", len(data))
	return json.RawMessage(data), nil
}

// Args: [documentJSON string, name string]
func importWorld(ctx context.Context, args []js.Value) (interface{}, error) {
	return true, layer.ImportWorld(ctx, []byte(argString(args, 0)), argString(args, 1))
}

// =============================================================================
// Replies
// =============================================================================

// Args: [input string, sessionID string]
func generateReply(ctx context.Context, args []js.Value) (interface{}, error) {
	return layer.GenerateReply(ctx, argString(args, 0), argString(args, 1))
}
