package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/civitas311/backend/internal/ai"
	"github.com/civitas311/backend/internal/geo"
	"github.com/civitas311/backend/internal/models"
)

// MaxNearestCrews bounds get_nearest_crews results to keep model context
// growth in check.
const MaxNearestCrews = 5

// ResourceStore is the read-only search surface the tools run against.
type ResourceStore interface {
	SearchLabels(ctx context.Context, search string) ([]models.Label, error)
	SearchUsers(ctx context.Context, search string) ([]models.User, error)
	ListCrewsByType(ctx context.Context, crewType string) ([]models.Crew, error)
}

// toolHandler executes one validated tool call. It returns the payload fed
// back to the model and the resource identifiers it exposed, which the
// output validator later accepts as assignable.
type toolHandler func(ctx context.Context, args json.RawMessage) (any, []string, error)

type tool struct {
	def     llms.Tool
	handler toolHandler
}

// Registry is the closed set of tools the model may call. The set is fixed
// at construction; there is no dynamic lookup.
type Registry struct {
	store ResourceStore
	tools map[string]tool
}

func NewRegistry(store ResourceStore) *Registry {
	r := &Registry{store: store, tools: map[string]tool{}}

	r.register(llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name: "get_labels",
			Description: "Find categorization labels for tickets. Search matches against label_name " +
				"and label_description (case-insensitive, partial match). Query multiple times " +
				"with different search terms to find all relevant labels.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"search": map[string]any{
						"type": "string",
						"description": "String to search label names and descriptions. " +
							"Common NYC 311 categories: 'pothole', 'tree', 'sanitation', " +
							"'street sign', 'drainage', 'snow removal', 'hazard', " +
							"'infrastructure', 'safety', 'urgent'",
					},
				},
				"required": []string{"search"},
			},
		},
	}, r.getLabels)

	r.register(llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name: "get_users",
			Description: "Find individual staff members for assignment. Search matches against user names, " +
				"emails, and phone numbers (case-insensitive, partial match). " +
				"Only returns users with status 'active'.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"search": map[string]any{
						"type": "string",
						"description": "String to search user names, emails, and phone numbers. " +
							"Examples: 'supervisor', 'Hugh Peterson', 'PetersonHughP@gmail.com'",
					},
				},
				"required": []string{"search"},
			},
		},
	}, r.getUsers)

	r.register(llms.Tool{
		Type: "function",
		Function: &llms.FunctionDefinition{
			Name: "get_nearest_crews",
			Description: "Find work crews near the incident location. Returns up to 5 nearest crews " +
				"sorted by distance. Only assign crews with status 'active'. Prefer the closest " +
				"available crew (first result).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"lat": map[string]any{
						"type":        "number",
						"description": "Latitude of the incident (use from ticket location_coordinates)",
					},
					"lng": map[string]any{
						"type":        "number",
						"description": "Longitude of the incident (use from ticket location_coordinates)",
					},
					"crew_type": map[string]any{
						"type": "string",
						"enum": models.CrewTypes,
						"description": "Type of crew needed. Choose based on issue type: " +
							"pothole crew (road damage), drain crew (flooding/drainage), " +
							"tree crew (trees/branches), sign crew (street signs), " +
							"snow crew (snow/ice), sanitation crew (trash/litter)",
					},
				},
				"required": []string{"lat", "lng", "crew_type"},
			},
		},
	}, r.getNearestCrews)

	return r
}

func (r *Registry) register(def llms.Tool, handler toolHandler) {
	r.tools[def.Function.Name] = tool{def: def, handler: handler}
}

// Definitions returns the tool declarations sent with every model request.
func (r *Registry) Definitions() []llms.Tool {
	defs := make([]llms.Tool, 0, len(r.tools))
	for _, name := range []string{"get_labels", "get_users", "get_nearest_crews"} {
		if t, ok := r.tools[name]; ok {
			defs = append(defs, t.def)
		}
	}
	return defs
}

// Execute runs one tool call. Failures never escape as Go errors; they come
// back as error-marker results so the loop can report them to the model and
// continue.
func (r *Registry) Execute(ctx context.Context, call ai.ToolCall) (ai.ToolResult, []string) {
	t, ok := r.tools[call.Name]
	if !ok {
		return errorResult(call, fmt.Sprintf("Unknown tool: %s", call.Name)), nil
	}

	payload, ids, err := t.handler(ctx, call.Arguments)
	if err != nil {
		return errorResult(call, err.Error()), nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return errorResult(call, fmt.Sprintf("encoding result: %v", err)), nil
	}
	return ai.ToolResult{CallID: call.ID, Name: call.Name, Content: string(b)}, ids
}

// ExecuteAll runs a turn's tool calls concurrently against the store and
// reassembles the results in request order.
func (r *Registry) ExecuteAll(ctx context.Context, calls []ai.ToolCall) ([]ai.ToolResult, []string) {
	results := make([]ai.ToolResult, len(calls))
	idLists := make([][]string, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call ai.ToolCall) {
			defer wg.Done()
			results[i], idLists[i] = r.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()

	var ids []string
	for _, l := range idLists {
		ids = append(ids, l...)
	}
	return results, ids
}

func errorResult(call ai.ToolCall, msg string) ai.ToolResult {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return ai.ToolResult{CallID: call.ID, Name: call.Name, Content: string(b), IsError: true}
}

type searchArgs struct {
	Search *string `json:"search"`
}

func (r *Registry) getLabels(ctx context.Context, raw json.RawMessage) (any, []string, error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, nil, fmt.Errorf("invalid arguments for get_labels: %v", err)
	}
	if args.Search == nil {
		return nil, nil, fmt.Errorf("get_labels requires a 'search' string argument")
	}

	labels, err := r.store.SearchLabels(ctx, *args.Search)
	if err != nil {
		return nil, nil, fmt.Errorf("label search failed: %v", err)
	}

	ids := make([]string, 0, len(labels))
	for _, l := range labels {
		ids = append(ids, l.ID)
	}
	if labels == nil {
		labels = []models.Label{}
	}
	return labels, ids, nil
}

func (r *Registry) getUsers(ctx context.Context, raw json.RawMessage) (any, []string, error) {
	var args searchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, nil, fmt.Errorf("invalid arguments for get_users: %v", err)
	}
	if args.Search == nil {
		return nil, nil, fmt.Errorf("get_users requires a 'search' string argument")
	}

	users, err := r.store.SearchUsers(ctx, *args.Search)
	if err != nil {
		return nil, nil, fmt.Errorf("user search failed: %v", err)
	}

	// Only active users are offered for assignment.
	active := make([]models.User, 0, len(users))
	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.Status != models.ResourceActive {
			continue
		}
		active = append(active, u)
		ids = append(ids, u.ID)
	}
	return active, ids, nil
}

type nearestCrewsArgs struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	CrewType *string  `json:"crew_type"`
}

type crewHit struct {
	TeamID   string             `json:"team_id"`
	TeamName string             `json:"team_name"`
	CrewType string             `json:"crew_type"`
	Status   string             `json:"status"`
	Location map[string]float64 `json:"location_coordinates"`
	Distance float64            `json:"distance"`
}

func (r *Registry) getNearestCrews(ctx context.Context, raw json.RawMessage) (any, []string, error) {
	var args nearestCrewsArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, nil, fmt.Errorf("invalid arguments for get_nearest_crews: %v", err)
	}
	if args.Lat == nil || args.Lng == nil {
		return nil, nil, fmt.Errorf("get_nearest_crews requires numeric 'lat' and 'lng' arguments")
	}
	if args.CrewType == nil {
		return nil, nil, fmt.Errorf("get_nearest_crews requires a 'crew_type' argument")
	}
	if !models.ValidCrewType(*args.CrewType) {
		return nil, nil, fmt.Errorf("Invalid crew_type: %s", *args.CrewType)
	}

	crews, err := r.store.ListCrewsByType(ctx, *args.CrewType)
	if err != nil {
		return nil, nil, fmt.Errorf("crew lookup failed: %v", err)
	}

	ranked := geo.NearestCrews(*args.Lat, *args.Lng, crews, MaxNearestCrews)
	hits := make([]crewHit, 0, len(ranked))
	ids := make([]string, 0, len(ranked))
	for _, rc := range ranked {
		hits = append(hits, crewHit{
			TeamID:   rc.Crew.ID,
			TeamName: rc.Crew.Name,
			CrewType: rc.Crew.CrewType,
			Status:   rc.Crew.Status,
			Location: map[string]float64{"lat": *rc.Crew.Lat, "lng": *rc.Crew.Lng},
			Distance: rc.DistanceKm,
		})
		ids = append(ids, rc.Crew.ID)
	}
	return hits, ids, nil
}
