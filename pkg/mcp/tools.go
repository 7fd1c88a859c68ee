package mcp

import "github.com/mark3labs/mcp-go/mcp"

// registerTools registers all MCP tools with the server
func (s *Server) registerTools() {
	// Health check
	s.mcpServer.AddTool(
		mcp.NewTool("get_health",
			mcp.WithDescription("Check whether plugd has a working device transport and whether it is scanning"),
		),
		s.handleGetHealth,
	)

	// List devices
	s.mcpServer.AddTool(
		mcp.NewTool("list_devices",
			mcp.WithDescription("List every connected device with its features"),
		),
		s.handleListDevices,
	)

	// Get device
	s.mcpServer.AddTool(
		mcp.NewTool("get_device",
			mcp.WithDescription("Get the features of one device, including output step ranges and sensor commands"),
			mcp.WithNumber("index",
				mcp.Required(),
				mcp.Description("Device index"),
			),
		),
		s.handleGetDevice,
	)

	// Scanning
	s.mcpServer.AddTool(
		mcp.NewTool("start_scanning",
			mcp.WithDescription("Start looking for devices on every transport. New devices appear in list_devices once connected."),
		),
		s.handleStartScanning,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("stop_scanning",
			mcp.WithDescription("Stop looking for devices"),
		),
		s.handleStopScanning,
	)

	// Stop
	s.mcpServer.AddTool(
		mcp.NewTool("stop_device",
			mcp.WithDescription("Stop every output of one device"),
			mcp.WithNumber("index",
				mcp.Required(),
				mcp.Description("Device index"),
			),
		),
		s.handleStopDevice,
	)
	s.mcpServer.AddTool(
		mcp.NewTool("stop_all_devices",
			mcp.WithDescription("Stop every output of every device"),
		),
		s.handleStopAllDevices,
	)

	// Output
	s.mcpServer.AddTool(
		mcp.NewTool("set_output",
			mcp.WithDescription("Drive one output of a device. The level is a fraction from 0 to 1 and is scaled to the feature's step range."),
			mcp.WithNumber("index",
				mcp.Required(),
				mcp.Description("Device index"),
			),
			mcp.WithNumber("feature_index",
				mcp.Required(),
				mcp.Description("Feature index from get_device"),
			),
			mcp.WithString("type",
				mcp.Required(),
				mcp.Description("Output type, e.g. Vibrate, Rotate, RotateWithDirection, Oscillate, PositionWithDuration"),
			),
			mcp.WithNumber("level",
				mcp.Required(),
				mcp.Description("Output level from 0 to 1"),
			),
			mcp.WithBoolean("clockwise",
				mcp.Description("Rotation direction for RotateWithDirection (default false)"),
			),
			mcp.WithNumber("duration_ms",
				mcp.Description("Movement duration in milliseconds for PositionWithDuration"),
			),
		),
		s.handleSetOutput,
	)

	// Sensors
	s.mcpServer.AddTool(
		mcp.NewTool("read_sensor",
			mcp.WithDescription("Read a sensor once, e.g. battery level"),
			mcp.WithNumber("index",
				mcp.Required(),
				mcp.Description("Device index"),
			),
			mcp.WithNumber("feature_index",
				mcp.Required(),
				mcp.Description("Feature index from get_device"),
			),
			mcp.WithString("type",
				mcp.Required(),
				mcp.Description("Input type: Battery, RSSI, Pressure or Button"),
			),
		),
		s.handleReadSensor,
	)
}
