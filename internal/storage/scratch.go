package storage

// newScratch returns the bootstrap scratch memory of a new persona. The
// cognitive parameters are the simulation's defaults.
func newScratch(c Character) map[string]any {
	return map[string]any{
		"vision_r":                    8,
		"att_bandwidth":               8,
		"retention":                   8,
		"curr_time":                   nil,
		"curr_tile":                   nil,
		"daily_plan_req":              c.DailyPlanReq,
		"name":                        c.Name,
		"first_name":                  c.FirstName,
		"last_name":                   c.LastName,
		"age":                         c.Age,
		"innate":                      c.Innate,
		"learned":                     c.Learned,
		"currently":                   c.Currently,
		"lifestyle":                   c.Lifestyle,
		"living_area":                 c.LivingArea,
		"concept_forget":              100,
		"daily_reflection_time":       180,
		"daily_reflection_size":       5,
		"overlap_reflect_th":          4,
		"kw_strg_event_reflect_th":    10,
		"kw_strg_thought_reflect_th":  9,
		"recency_w":                   1,
		"relevance_w":                 1,
		"importance_w":                1,
		"recency_decay":               0.995,
		"importance_trigger_max":      150,
		"importance_trigger_curr":     150,
		"importance_ele_n":            0,
		"thought_count":               5,
		"daily_req":                   []any{},
		"f_daily_schedule":            []any{},
		"f_daily_schedule_hourly_org": []any{},
		"act_address":                 nil,
		"act_start_time":              nil,
		"act_duration":                nil,
		"act_description":             nil,
		"act_pronunciatio":            nil,
		"act_event":                   []any{c.Name, nil, nil},
		"act_obj_description":         nil,
		"act_obj_pronunciatio":        nil,
		"act_obj_event":               []any{nil, nil, nil},
		"chatting_with":               nil,
		"chat":                        nil,
		"chatting_with_buffer":        map[string]any{},
		"chatting_end_time":           nil,
		"act_path_set":                false,
		"planned_path":                []any{},
	}
}
