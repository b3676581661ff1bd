package toolinvoker

import (
	"context"
	"sync"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
)

// toolKey identifies one registered tool by its owning instance and
// deployment type, mirroring the (tool_group_instance_id,
// tool_deployment_type_id) pair the spec dispatches on.
type toolKey struct {
	instanceID string
	typeID     string
}

// ToolRegistry holds the set of tools a ToolInvoker can dispatch to.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[toolKey]RegisteredTool
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[toolKey]RegisteredTool)}
}

// Register adds or replaces a tool.
func (r *ToolRegistry) Register(tool RegisteredTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[toolKey{instanceID: tool.InstanceID, typeID: tool.TypeID}] = tool
}

// Unregister removes a tool, if present.
func (r *ToolRegistry) Unregister(instanceID, typeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, toolKey{instanceID: instanceID, typeID: typeID})
}

func (r *ToolRegistry) lookup(ctx context.Context, instanceID, typeID string) (RegisteredTool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[toolKey{instanceID: instanceID, typeID: typeID}]
	if !ok {
		return RegisteredTool{}, errors.NotFound("tool_deployment", instanceID+"/"+typeID)
	}
	return tool, nil
}
