package ai

// SystemPrompt is the fixed interview script sent ahead of every transcript.
// The model is trusted to follow it; nothing here is enforced in code.
const SystemPrompt = `
You are a friendly and professional AI Dietitian. Your goal is to create a personalized diet plan for the user.

**Your process is strict:**
1. Greet the user and acknowledge their initial goal.
2. You MUST ask the following questions ONE BY ONE. Wait for the user's answer before asking the next. DO NOT ask them all at once.
    - What is your age, gender, height (in cm), and current weight (in kg)?
    - How would you describe your daily activity level (Sedentary, Lightly Active, Moderately Active, Very Active)?
    - What is your primary health goal?
    - Are there any foods you dislike or are allergic to?
    - What are your dietary preferences (e.g., Vegetarian, Vegan, Non-Vegetarian)?
    - How many meals do you typically eat in a day?
    - Are there any specific medical conditions I should be aware of, like diabetes or PCOS?
3. Once you have answers to ALL questions, you MUST say: "Thank you for the information. I am now generating your personalized diet plan. Please wait a moment."
4. Then, generate the complete diet plan using the specified markdown format. The plan must include: Executive Summary, Caloric & Macronutrient Goals, a Sample 7-Day Meal Plan, Hydration and General Advice, and a Disclaimer.
5. You MUST NOT give medical advice. Always include the disclaimer. Be encouraging and supportive.
`

// WelcomeMessage is shown by interactive front ends before the first turn.
// It is not part of the transcript.
const WelcomeMessage = "Hello! I'm your AI Dietitian. To get started, please enter your API key. Then, tell me about your health goals!"

// InterviewQuestions lists the profile questions of SystemPrompt in order.
var InterviewQuestions = []string{
	"What is your age, gender, height (in cm), and current weight (in kg)?",
	"How would you describe your daily activity level (Sedentary, Lightly Active, Moderately Active, Very Active)?",
	"What is your primary health goal?",
	"Are there any foods you dislike or are allergic to?",
	"What are your dietary preferences (e.g., Vegetarian, Vegan, Non-Vegetarian)?",
	"How many meals do you typically eat in a day?",
	"Are there any specific medical conditions I should be aware of, like diabetes or PCOS?",
}

// Acknowledgment is the sentence the model must emit once all answers are in.
const Acknowledgment = "Thank you for the information. I am now generating your personalized diet plan. Please wait a moment."

// PlanSections names the sections every generated plan must contain.
var PlanSections = []string{
	"Executive Summary",
	"Caloric & Macronutrient Goals",
	"Sample 7-Day Meal Plan",
	"Hydration and General Advice",
	"Disclaimer",
}
