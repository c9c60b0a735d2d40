package consensus

import (
	"fmt"
	"sort"
	"strings"

	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/library"
)

const inTransportActions = "            - Do nothing since you are in a helicopter."

const centralSystem = `You are central planner directing agents in a cooperative multi-agent robotic task.
Your job is to provide the next best action for each agent.`

func teamState(members []Member) string {
	var b strings.Builder
	for _, m := range members {
		actions := library.DescribeRole(m.Role)
		if m.InTransport {
			actions = inTransportActions
		}
		fmt.Fprintf(&b, "%s:\n  perception: %s\n  available actions:\n%s\n", m.ID.Tag(), m.Perception, actions)
	}
	return b.String()
}

func proposalFraming(r Round) string {
	return fmt.Sprintf(`You are central planner directing agents in a cooperative multi-agent robotic task.

Your team's task is:
%s
---

Your team's previous state action pairs at each step are:
%s
---

Your team's current state and available actions are:
%s
---

Now your job is to provide the next best action for each agent. You must provide a single action for each agent. These actions must be exactly ONE of the agent's available actions, including the 'do nothing' action. Do not propose multiple actions per agent.

Specify your action plan in the following format with agent names in all caps:

<reasoning>(any reasoning or calculations)</reasoning>

<AGENT>'MY NEXT ACTION'</AGENT>

For example:

<AGENT_A>'action'</AGENT_A>, <AGENT_B>'action'</AGENT_B>...

Make sure you include enough details in each action such as explicit target coordinate locations.`,
		r.Task, r.StepHistory, teamState(r.Members))
}

func renderIntents(intents map[domain.AgentID]string) string {
	ids := make([]int, 0, len(intents))
	for id := range intents {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "%s: %s\n", domain.AgentID(id).Tag(), intents[domain.AgentID(id)])
	}
	return b.String()
}

func revisionPrompt(feedback map[domain.AgentID]string) string {
	return "This is your team's feedback. Adjust the plan accordingly. Specify the revised action plan in the same format.\n\n" +
		renderIntents(feedback)
}

func missingIntentsPrompt(missing []domain.AgentID) string {
	tags := make([]string, len(missing))
	for i, id := range missing {
		tags[i] = id.Tag()
	}
	return fmt.Sprintf("Your plan has no action for %s. Provide exactly one action for every agent in the same format.",
		strings.Join(tags, ", "))
}

func feedbackPrompts(r Round, self Member, intents map[domain.AgentID]string) (string, string) {
	system := fmt.Sprintf(`You are the %s, an embodied agent in a cooperative multi-agent robotic task. Your team is in a %d by %d forest grid world that spans x:[0 to %d] and y:[0 to %d].
Your job is to provide feedback to the central planner's action plan, specifically regarding your agent.`,
		self.ID.Tag(), r.MapSize, r.MapSize, r.MapSize, r.MapSize)
	user := fmt.Sprintf(`You are %s, a %s Agent in a cooperative multi-agent robotic task.

Your team's task is:
%s
---

Your team's previous state action pairs at each step are:
%s
---

Your team's current state and available actions are:
%s
---

The initial action plan from the central planner is:
%s
---

Now your job is to provide feedback to the action plan specifically regarding your agent.
If the plan is satisfactory, the feedback should only be 'ACCEPT'.

Remember, you are %s a %s Agent, located at %s.

<reasoning>(any reasoning or calculations)</reasoning>

<feedback>'feedback'</feedback>`,
		self.ID.Tag(), self.Role.Title(), r.Task, r.StepHistory, teamState(r.Members), renderIntents(intents),
		self.ID.Tag(), self.Role.Title(), self.Position)
	return system, user
}

// teamComposition lists the roster by role with each role's blurb.
func teamComposition(members []Member) string {
	var b strings.Builder
	for _, role := range domain.Roles {
		var tags []string
		for _, m := range members {
			if m.Role == role {
				tags = append(tags, m.ID.Tag())
			}
		}
		if len(tags) == 0 {
			continue
		}
		verb := "are"
		if len(tags) == 1 {
			verb = "is"
		}
		fmt.Fprintf(&b, "[%s] %s %s Agents. %s\n\n", strings.Join(tags, ", "), verb, role.Title(), library.Blurb(role))
	}
	return b.String()
}

func teamAbilities(members []Member) string {
	var b strings.Builder
	for _, role := range domain.Roles {
		for _, m := range members {
			if m.Role == role {
				b.WriteString(library.DescribeRole(role))
				b.WriteString("\n")
				break
			}
		}
	}
	return b.String()
}

// teamStatus is the leader's private view of every teammate.
func teamStatus(members []Member, intents map[domain.AgentID]string) string {
	var b strings.Builder
	for _, m := range members {
		current := m.Current
		if intent, ok := intents[m.ID]; ok {
			current = intent
		}
		if current == "" {
			current = "IDLE"
		}
		fmt.Fprintf(&b, "%s:\n  position: %s\n  current action: %s\n  past actions: %s\n  perception: %s\n\n",
			m.ID.Tag(), m.Position, current, strings.Join(m.Past, "; "), m.Perception)
	}
	return b.String()
}

func pastActions(m Member) string {
	if len(m.Past) == 0 {
		return ""
	}
	return strings.Join(m.Past, "\n") + "\n"
}

func leaderPlanPrompts(r Round, leader Member, intents map[domain.AgentID]string) (string, string) {
	system := fmt.Sprintf(`You are %s, currently acting as the leader in a cooperative multi-agent robotic task. Your team is in a %d by %d forest grid world that spans x:[0 to %d] and y:[0 to %d].
You have access to the collective observations and the progress of all agents. Your job is to plan the next best action for yourself, and OPTIONALLY: the next best action for any other agents.`,
		leader.ID.Tag(), r.MapSize, r.MapSize, r.MapSize, r.MapSize)
	user := fmt.Sprintf(`You are %s a %s Agent, currently acting as the leader in a cooperative multi-agent robotic task.
This is your team composition, including you:
%s
Your team's current task is:
%s
---

Your past actions were:
%s
---
This is your chat history with agents in your team:

%s
---
This is your team's (including you) collective observations, locations, current actions, and past actions of all agents.
%s
Now your job is to provide the next best action for yourself, and OPTIONALLY: the next best action for any other agents.
Remember, you are %s a %s Agent, located at %s.

These are all the possible actions for each type of agent. This is a comprehensive list, so the action MUST be one of these types. NO other responses are allowed.

%s
Provide your output in the following format:

<reasoning>(any reasoning or calculations)</reasoning>

<action>'MY NEXT ACTION'</action>

OPTIONAL-for other agents:

<AGENT_ID-action>(AGENT_ID'S NEXT ACTION)</AGENT_ID-action>
<AGENT_ID-message>(message to AGENT_ID)</AGENT_ID-message>

For example:
<AGENT_A-action>'action'</AGENT_A-action>
<AGENT_A-message>'message'</AGENT_A-message>`,
		leader.ID.Tag(), leader.Role.Title(), teamComposition(r.Members), r.Task, pastActions(leader), leader.Chat,
		teamStatus(r.Members, intents), leader.ID.Tag(), leader.Role.Title(), leader.Position, teamAbilities(r.Members))
	return system, user
}

func proposalPrompts(r Round, self Member) (string, string) {
	system := fmt.Sprintf(`You are %s, an embodied %s agent.
You propose your next action based on your task, observations, past actions, and chat history.`,
		self.ID.Tag(), self.Role.Title())
	user := fmt.Sprintf(`You are %s, an embodied %s agent within a %d by %d forest grid world and part of a collaborative team of %d Agents.

This is your team's composition (including yourself):

%s
These are your current observations:

'%s'

---
This is your team's overall task: '%s'

Your past actions were:

%s
---
This is your chat history with agents in your team:

%s
---
Your job is to propose your next action. These are your possible actions:

%s
This is a comprehensive list, so your action MUST be one of these types. NO other responses are allowed.

Provide your output in the following format:

<reasoning>(any reasoning or calculations)</reasoning>
<action>'MY NEXT ACTION'</action>`,
		self.ID.Tag(), self.Role.Title(), r.MapSize, r.MapSize, len(r.Members), teamComposition(r.Members),
		self.Perception, r.Task, pastActions(self), self.Chat, library.DescribeRole(self.Role))
	return system, user
}

func reviewPrompts(r Round, leader, proposer Member, proposed string, intents map[domain.AgentID]string) (string, string) {
	system := fmt.Sprintf(`You are %s, currently acting as the leader in a cooperative multi-agent robotic task. Your team is in a %d by %d forest grid world that spans x:[0 to %d] and y:[0 to %d].
You have access to the collective observations and the progress of all agents. Your job is to review the proposed actions of your teammates and assign them actions.`,
		leader.ID.Tag(), r.MapSize, r.MapSize, r.MapSize, r.MapSize)
	user := fmt.Sprintf(`You are %s, currently acting as the leader in a cooperative multi-agent robotic task.
This is your team composition, including you:
%s
---

Your team's current task is:
%s
---

This is your team's (including you) collective observations, locations, current actions, and past actions of all agents. Only you have all of this data.
%s
---

Your teammate %s, a %s Agent, is proposing a new action for itself:
%s
---

Your job is to review this action and ACCEPT or REJECT it.

Then provide the next best action for %s, choosing a better one if REJECT or repeating/rewriting the proposed one if ACCEPT.
Also send a message to %s describing your choice.

Additionally, you may announce information to other agents in your team.
You may also choose to override actions for other agents as well. You must send a message to that agent if you do so. This interrupts their action, so only do this if you want to change their current action.

These are all the possible actions for each type of agent. This is a comprehensive list, so the action MUST be one of these types. NO other responses are allowed.

%s
Provide your output in the following format:

<reasoning>(any reasoning or calculations)</reasoning>

<decision> ACCEPT OR REJECT </decision>
<action> %s's next action </action>
<message> message to %s </message>

OPTIONAL-for other agents:

<AGENT_ID-action>(AGENT_ID'S NEXT ACTION)</AGENT_ID-action>
<AGENT_ID-message>(message to AGENT_ID)</AGENT_ID-message>

For example: <AGENT_A-action>'action'</AGENT_A-action>

Make sure actions are specific and include all information needed to execute, such as coordinates.

YOU MUST HAVE AT LEAST THE <reasoning>, <decision>, <action>, <message> TAGS. SENDING MESSAGES OR PROPOSING ACTIONS TO OTHER AGENTS IS OPTIONAL.`,
		leader.ID.Tag(), teamComposition(r.Members), r.Task, teamStatus(r.Members, intents),
		proposer.ID.Tag(), proposer.Role.Title(), proposed, proposer.ID.Tag(), proposer.ID.Tag(),
		teamAbilities(r.Members), proposer.ID.Tag(), proposer.ID.Tag())
	return system, user
}
