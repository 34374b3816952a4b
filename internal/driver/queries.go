package driver

var IndexQueries = []string{
	"CREATE INDEX ON :GuideNode(uuid);",
	"CREATE INDEX ON :GuideNode(title);",
	"CREATE INDEX ON :GuideNode(monitor);",
	"CREATE INDEX ON :Incident(id);",
}

const (
	SaveGuideNodeQuery = `
		MERGE (n:GuideNode {uuid: $uuid})
		SET n.type = $type,
			n.title = $title,
			n.intent = $intent,
			n.action = $action,
			n.output = $output,
			n.default_parameters = $default_parameters,
			n.monitor = $monitor,
			n.is_first = $is_first,
			n.embedding = $embedding
		RETURN n.uuid AS uuid
	`

	// LinkGuideStepsQuery chains consecutive steps of one guide.
	LinkGuideStepsQuery = `
		MATCH (a:GuideNode {uuid: $source_uuid})
		MATCH (b:GuideNode {uuid: $target_uuid})
		MERGE (a)-[:NEXT_STEP]->(b)
		RETURN a.uuid AS uuid
	`

	SearchGuideNodesQuery = `
		MATCH (n:GuideNode)
		WHERE ($monitor = "" OR n.monitor = $monitor)
			AND (NOT $first_only OR n.is_first = true)
		RETURN n.uuid AS uuid, n.title AS title, n.intent AS intent, n.action AS action, n.embedding AS embedding
	`

	GetGuideNodesQuery = `
		MATCH (n:GuideNode)
		RETURN n.uuid AS uuid, n.type AS type, n.title AS title, n.intent AS intent,
			n.action AS action, n.output AS output, n.default_parameters AS default_parameters,
			n.monitor AS monitor, n.is_first AS is_first
		ORDER BY n.title, n.uuid
	`

	SaveIncidentQuery = `
		MERGE (i:Incident {id: $id})
		SET i.title = $title,
			i.summary = $summary,
			i.monitor_id = $monitor_id,
			i.start = $start,
			i.end = $end
		RETURN i.id AS id
	`

	GetIncidentQuery = `
		MATCH (i:Incident {id: $id})
		RETURN i.id AS id, i.title AS title, i.summary AS summary,
			i.monitor_id AS monitor_id, i.start AS start, i.end AS end
		LIMIT 1
	`
)
