package config

// Prompts holds every LLM instruction and user-facing notice. Fields that
// carry %s verbs are filled with fmt.Sprintf in the order documented on the
// field.
type Prompts struct {
	IntentSystem     string `toml:"intent_system"`
	IntentNewQuery   string `toml:"intent_new_query"`
	IntentJudgeQuery string `toml:"intent_judge_query"`
	IntentJudgeInfo  string `toml:"intent_judge_info"`
	IntentIrrelevant string `toml:"intent_irrelevant"`
	// Exchange: user query, info, chat history.
	Exchange string `toml:"exchange"`
	// Retrieve: user query, candidate list.
	Retrieve string `toml:"retrieve"`
	Planner  string `toml:"planner"`
	// SpeakerSelection: conversation, candidate names.
	SpeakerSelection string `toml:"speaker_selection"`
	// CodeTemplate: code block.
	CodeTemplate string `toml:"code_template"`
	// GuideElements: markdown guide.
	GuideElements string `toml:"guide_elements"`

	Notices Notices `toml:"notices"`
}

// Notices are the natural-language prompts returned to the user.
type Notices struct {
	ContinueRejected string `toml:"continue_rejected"`
	CrossRejected    string `toml:"cross_rejected"`
	Mitigated        string `toml:"mitigated"`
	Completed        string `toml:"completed"`
	Awaiting         string `toml:"awaiting"`
	Failed           string `toml:"failed"`
	NoMatch          string `toml:"no_match"`
	UnknownIncident  string `toml:"unknown_incident"`
}

func (p *Prompts) fillDefaults() {
	set := func(field *string, v string) {
		if *field == "" {
			*field = v
		}
	}
	set(&p.IntentSystem, defaultIntentSystem)
	set(&p.IntentNewQuery, defaultIntentNewQuery)
	set(&p.IntentJudgeQuery, defaultIntentJudgeQuery)
	set(&p.IntentJudgeInfo, defaultIntentJudgeInfo)
	set(&p.IntentIrrelevant, defaultIntentIrrelevant)
	set(&p.Exchange, defaultExchange)
	set(&p.Retrieve, defaultRetrieve)
	set(&p.Planner, defaultPlanner)
	set(&p.SpeakerSelection, defaultSpeakerSelection)
	set(&p.CodeTemplate, defaultCodeTemplate)
	set(&p.GuideElements, defaultGuideElements)

	set(&p.Notices.ContinueRejected, "The newly retrieved step does not follow the last plan. Please contact the on-call engineers.")
	set(&p.Notices.CrossRejected, "Your input leads to a step outside of the known guides. Please contact the on-call engineers.")
	set(&p.Notices.Mitigated, "The incident is mitigated successfully. Feel free to ask more questions.")
	set(&p.Notices.Completed, "The conversation is over.")
	set(&p.Notices.Awaiting, "Results should be outputted.")
	set(&p.Notices.Failed, "Something went wrong while handling your request. Please start a new conversation.")
	set(&p.Notices.NoMatch, "No troubleshooting guide step matches your input.")
	set(&p.Notices.UnknownIncident, "The incident could not be found. Please check the incident id.")
}

const defaultIntentSystem = `You are TSG Copilot, an assistant that helps the user troubleshoot the query in <USER_QUERY>.
<CHAT_HISTORY> holds the conversation so far and <INFO> holds knowledge retrieved from troubleshooting guides.
Always answer with a single JSON object after <RESPONSE>.
`

const defaultIntentNewQuery = `Decide what the user wants.
- If <USER_QUERY> names an incident id, hand it to node_retrieve_agent:
{"DECISION": "NEW_INCIDENT", "NEXT": "node_retrieve_agent", "IncidentId": "<the id>", "TOKEN": "[CONTINUE]", "RESPONSE": "<your reply>"}
- Else if <USER_QUERY> is about troubleshooting an incident, ask node_retrieve_agent to search the guides:
{"DECISION": "NEW_QUERY", "NEXT": "node_retrieve_agent", "QUERY": "<the query, unchanged>", "TOKEN": "[CONTINUE]", "RESPONSE": "<your reply>"}
- Else explain that you only help with incident troubleshooting:
{"DECISION": "NOT_RELATED", "NEXT": "user_proxy", "RESPONSE": "<your reply>"}
`

const defaultIntentJudgeQuery = `Decide whether <USER_QUERY> answers the latest plan in <CHAT_HISTORY>.
- If the user asks what to do next, or reports a result matching one of the plan's if-then branches, ask node_retrieve_agent for the matching "then" step and copy the branch token:
{"DECISION": "MATCHED", "NEXT": "node_retrieve_agent", "QUERY": "<the then-step>", "TOKEN": "[CONTINUE] | [CROSS] | [MITIGATE]", "RESPONSE": "<your reply>"}
- If the user starts an unrelated troubleshooting question:
{"DECISION": "NEW_QUERY", "NEXT": "node_retrieve_agent", "QUERY": "<the query, unchanged>", "TOKEN": "[CONTINUE]", "RESPONSE": "<your reply>"}
- If the user supplies parameters for the plan or asks to improve it:
{"DECISION": "REFINE", "NEXT": "planner_agent", "RESPONSE": "<what the planner must change>"}
`

const defaultIntentJudgeInfo = `Decide whether <INFO> answers <USER_QUERY>.
- If it does, ask planner_agent to build the plan:
{"DECISION": "RELATED", "NEXT": "planner_agent", "QUERY": "<the query>", "RESPONSE": "<the info, unchanged>"}
- If it does not, rephrase the query using <INFO> and ask the user to confirm:
{"DECISION": "RELATED", "NEXT": "user_proxy", "RESPONSE": "<rephrased query>"}
`

const defaultIntentIrrelevant = `The retrieval returned no usable guide step.
- If <INFO> explains that nothing relevant was found, tell the user you only help with incident troubleshooting:
{"DECISION": "NOT_RELATED", "NEXT": "user_proxy", "RESPONSE": "<your reply>"}
- If <INFO> says the incident is mitigated or the user should contact on-call engineers, relay that:
{"DECISION": "MITIGATED", "NEXT": "user_proxy", "RESPONSE": "<your reply>"}
`

const defaultExchange = "<USER_QUERY>:\n%s\n<INFO>:\n%s\n<CHAT_HISTORY>:\n%s\n<RESPONSE>:\n"

const defaultRetrieve = `Select the element of <INFO_LIST> that best answers <USER_QUERY>.
Match the query against each element's #intent# and #action#; ignore #output#.
Answer with a JSON list:
[{"INDEX": <0-based index>, "INTENT": "<the #intent#>", "EXPLANATION": "<why>"}]
If the user seems to use the wrong terminology, add "REPHRASED_QUERY" with what you think they meant.
Only when nothing is even close, answer {"NO_INFO_EXPLANATION": "<why>"}.
<USER_QUERY>:
%s
<INFO_LIST>:
%s
<RESPONSE>:
`

const defaultPlanner = `You are a troubleshooting planner. Build concrete steps for <USER_QUERY> from <INFO> and <CHAT_HISTORY> only.
- Keep the #action# content and its code blocks intact.
- Include the expected outputs from #output# as if-then branches with their tokens.
- Fill placeholders with parameters from the user or the chat history; otherwise use #default_parameters# and ask for the missing values.
- If <INFO> is empty, refine the latest plan in <CHAT_HISTORY>.
Answer with {"RESPONSE": "<the plan>"}.
`

const defaultSpeakerSelection = `Read the conversation below, then select the next role from %[2]s to play. Only return the role.

%[1]s
`

const defaultCodeTemplate = `Replace the concrete parameters in <CODE> with <placeholder> markers.
Answer with {"#CODE_TEMPLATE#": "<code with placeholders>", "#DEFAULT_PARAMETERS#": {"<placeholder>": "<original value>"}}.
If <CODE> is not a code block, answer "Sorry, I cannot give a confident answer".
<CODE>:
%s
<RESPONSE>:
`

const defaultGuideElements = `Split the troubleshooting guide in <TSG> into elements, one per second level header.
Answer with {"extracted_elements": [{"#type#": "terminology|background|faq|steps", "#title#": "<steps section header>", "#intent#": "<intent>", "#action#": "<action with code blocks>", "#output#": "-If **condition**, then **should_do**"}]}.
<TSG>:
%s
`
